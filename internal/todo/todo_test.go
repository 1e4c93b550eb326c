package todo

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

func newList(t *testing.T) *Manager {
	t.Helper()
	m, err := Create(t.TempDir(), "demo")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCreateLayout(t *testing.T) {
	m := newList(t)
	data, err := os.ReadFile(m.Path())
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, want := range []string{"# demo 任务清单", pendingHeader, completedHeader, recordsHeader} {
		if !strings.Contains(content, want) {
			t.Errorf("layout missing %q:\n%s", want, content)
		}
	}
	if !strings.Contains(m.Path(), "demo_to-do-list_") {
		t.Errorf("path = %s", m.Path())
	}
}

func TestAddItemAndSummary(t *testing.T) {
	m := newList(t)
	if err := m.AddItem("fix the parser bug", "high", "fix"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddItem("write tests", "", ""); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(m.Path())
	if !strings.Contains(string(data), "- [ ] [high] (fix) fix the parser bug") {
		t.Errorf("item rendering:\n%s", data)
	}

	summary, err := m.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "待办 2 项") || !strings.Contains(summary, "write tests") {
		t.Errorf("summary = %q", summary)
	}
}

func TestMarkCompletedMovesItem(t *testing.T) {
	m := newList(t)
	if err := m.AddItem("fix the parser bug", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.AddItem("write tests", "", ""); err != nil {
		t.Fatal(err)
	}

	ok, err := m.MarkCompleted("parser bug")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("no match reported")
	}

	data, _ := os.ReadFile(m.Path())
	content := string(data)
	lines := strings.Split(content, "\n")
	pStart, pEnd := sectionBounds(lines, pendingHeader)
	for i := pStart; i < pEnd; i++ {
		if strings.Contains(lines[i], "parser bug") {
			t.Errorf("completed item still pending: %s", lines[i])
		}
	}
	cStart, cEnd := sectionBounds(lines, completedHeader)
	found := false
	for i := cStart; i < cEnd; i++ {
		if strings.HasPrefix(lines[i], "- [x]") && strings.Contains(lines[i], "parser bug") &&
			strings.Contains(lines[i], "完成于") {
			found = true
		}
	}
	if !found {
		t.Errorf("item not in completed section:\n%s", content)
	}
}

func TestMarkCompletedNoMatch(t *testing.T) {
	m := newList(t)
	if err := m.AddItem("one thing", "", ""); err != nil {
		t.Fatal(err)
	}
	ok, err := m.MarkCompleted("unrelated")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("match reported for absent pattern")
	}
}

func TestUpdateItem(t *testing.T) {
	m := newList(t)
	if err := m.AddItem("old description", "", ""); err != nil {
		t.Fatal(err)
	}
	ok, err := m.UpdateItem("old description", "new description")
	if err != nil || !ok {
		t.Fatalf("UpdateItem = %v, %v", ok, err)
	}
	data, _ := os.ReadFile(m.Path())
	if strings.Contains(string(data), "old description") {
		t.Error("old text survived")
	}
	if !strings.Contains(string(data), "- [ ] new description") {
		t.Errorf("new text missing:\n%s", data)
	}
}

func TestRecordsCapped(t *testing.T) {
	m := newList(t)
	for i := 0; i < 25; i++ {
		if err := m.AddRecord(fmt.Sprintf("record %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	data, _ := os.ReadFile(m.Path())
	lines := strings.Split(string(data), "\n")
	start, end := sectionBounds(lines, recordsHeader)
	count := 0
	for i := start; i < end; i++ {
		if strings.HasPrefix(lines[i], "- ") {
			count++
		}
	}
	if count != maxRecords {
		t.Errorf("records = %d, want %d", count, maxRecords)
	}
	// Oldest evicted, newest kept.
	if strings.Contains(string(data), "record 0\n") {
		t.Error("oldest record survived")
	}
	if !strings.Contains(string(data), "record 24") {
		t.Error("newest record missing")
	}
}

func TestIncrementalEditPreservesOtherSections(t *testing.T) {
	m := newList(t)
	if err := m.AddItem("keep me", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.AddRecord("ran go test"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.MarkCompleted("keep me"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(m.Path())
	if !strings.Contains(string(data), "ran go test") {
		t.Errorf("record lost across edits:\n%s", data)
	}
}
