package safety

import (
	"path/filepath"
	"regexp"
	"strings"
)

// whitelistOrdered is the full set of commands the guard will consider
// executing. Order is kept stable for deterministic suggestions.
var whitelistOrdered = []string{
	// file and directory inspection
	"ls", "dir", "pwd", "cat", "head", "tail", "less", "more", "file",
	"stat", "du", "df", "tree", "wc", "realpath", "readlink", "basename",
	"dirname",
	// search
	"grep", "egrep", "fgrep", "rg", "ag", "ack", "find", "fd", "locate",
	"which", "whereis", "type",
	// file manipulation
	"cp", "mv", "rm", "mkdir", "rmdir", "touch", "ln", "chmod", "chown",
	"truncate", "install", "rsync",
	// text processing
	"sed", "awk", "cut", "sort", "uniq", "tr", "paste", "join", "split",
	"column", "fold", "fmt", "nl", "tee", "xargs", "diff", "cmp", "comm",
	"patch", "strings", "od", "xxd", "hexdump", "iconv", "expand",
	"unexpand", "jq", "yq",
	// archives and compression
	"tar", "gzip", "gunzip", "zip", "unzip", "bzip2", "bunzip2", "xz",
	"unxz", "zstd", "7z",
	// hashing and encoding
	"md5sum", "sha1sum", "sha256sum", "sha512sum", "cksum", "base64",
	"uuidgen",
	// network fetch (read-only)
	"curl", "wget", "ping", "host", "dig", "nslookup", "nc",
	// process and system inspection
	"ps", "top", "htop", "free", "uptime", "uname", "hostname", "id",
	"whoami", "groups", "env", "printenv", "date", "cal", "lscpu",
	"lsblk", "lsof", "kill", "pkill", "pgrep", "nproc", "sleep", "time",
	"timeout", "nohup", "watch", "echo", "printf", "test", "true",
	"false", "yes", "seq", "expr", "bc",
	// version control
	"git", "gh", "svn", "hg",
	// editors (non-interactive usage)
	"ed", "nano", "vim",
	// language toolchains
	"python", "pip", "pipx", "uv", "virtualenv", "poetry", "pytest",
	"node", "npm", "npx", "yarn", "pnpm", "deno", "bun", "tsc",
	"go", "gofmt", "golangci-lint", "dlv",
	"java", "javac", "mvn", "gradle", "kotlin",
	"ruby", "gem", "bundle", "rake",
	"rustc", "cargo", "rustup",
	"gcc", "g++", "clang", "clang++", "make", "cmake", "ninja", "ld",
	"ar", "nm", "objdump", "strip", "pkg-config",
	"php", "composer", "perl", "lua", "R", "Rscript", "julia", "swift",
	"dotnet", "scala", "sbt",
	// package managers
	"apt", "apt-get", "apt-cache", "dpkg", "yum", "dnf", "rpm", "pacman",
	"brew", "snap", "conda", "mamba",
	// containers and services
	"docker", "docker-compose", "podman", "kubectl", "helm", "systemctl",
	"journalctl", "service",
	// shells and escalation
	"sh", "bash", "zsh", "fish", "sudo",
	// misc dev tooling
	"man", "info", "help", "clear", "tput", "stty", "ssh", "scp", "sftp",
	"tmux", "screen", "crontab", "make-ca", "openssl", "gpg",
}

// whitelisted is the membership view of whitelistOrdered.
var whitelisted = func() map[string]bool {
	m := make(map[string]bool, len(whitelistOrdered))
	for _, cmd := range whitelistOrdered {
		m[cmd] = true
	}
	return m
}()

// readOnlyInspectors never modify the filesystem, so their path arguments
// are exempt from the workspace path rule.
var readOnlyInspectors = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "less": true,
	"more": true, "file": true, "stat": true, "du": true, "df": true,
	"tree": true, "wc": true, "grep": true, "egrep": true, "fgrep": true,
	"rg": true, "ag": true, "find": true, "fd": true, "which": true,
	"whereis": true, "realpath": true, "readlink": true, "basename": true,
	"dirname": true, "md5sum": true, "sha1sum": true, "sha256sum": true,
	"sha512sum": true, "strings": true, "od": true, "xxd": true,
	"hexdump": true, "diff": true, "cmp": true, "type": true,
}

// sudoAllowed is the subset of commands that may run under sudo.
var sudoAllowed = map[string]bool{
	"apt": true, "apt-get": true, "apt-cache": true, "dpkg": true,
	"yum": true, "dnf": true, "pacman": true, "snap": true,
	"systemctl": true, "service": true,
}

func sudoAllowedList() []string {
	out := make([]string, 0, len(sudoAllowed))
	for _, cmd := range whitelistOrdered {
		if sudoAllowed[cmd] {
			out = append(out, cmd)
		}
	}
	return out
}

// versionSuffix strips trailing version digits: python3 -> python,
// pip3.11 -> pip, g++-12 -> g++.
var versionSuffix = regexp.MustCompile(`^([a-zA-Z+_-]+?)[-.]?\d+(\.\d+)*$`)

// aliasedNames maps common alternates to their canonical whitelist entry.
var aliasedNames = map[string]string{
	"python3": "python",
	"python2": "python",
	"pip3":    "pip",
	"pip2":    "pip",
	"nodejs":  "node",
	"vi":      "vim",
}

// NormalizeCommand strips any directory prefix and maps versioned or
// aliased names onto their canonical whitelist entry.
func NormalizeCommand(raw string) string {
	name := filepath.Base(strings.TrimSpace(raw))
	if canonical, ok := aliasedNames[name]; ok {
		return canonical
	}
	if m := versionSuffix.FindStringSubmatch(name); m != nil {
		base := strings.TrimRight(m[1], "-.")
		if canonical, ok := aliasedNames[base]; ok {
			return canonical
		}
		if whitelisted[base] {
			return base
		}
	}
	return name
}
