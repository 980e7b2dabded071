// pkg/report/report_test.go
package report

import (
	"bytes"
	"strings"
	"testing"

	"vtree/pkg/treenode"
)

type probe struct{ v int }

func TestClusterIDIsUniquePerPointer(t *testing.T) {
	a, b := &probe{1}, &probe{2}
	if ClusterID(a) == ClusterID(b) {
		t.Fatal("expected distinct pointers to render distinct cluster IDs")
	}
	if ClusterID(a) != ClusterID(a) {
		t.Fatal("expected the same pointer to render the same cluster ID across calls")
	}
}

func TestWriteMembershipHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	rows := []MembershipRow{
		{ObjectID: "doc1", ClusterID: "abc123", Distance: 0.5},
		{ObjectID: "doc2", ClusterID: "def456", Distance: 1.25},
	}
	if err := WriteMembership(&buf, rows); err != nil {
		t.Fatalf("WriteMembership: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "object ID,cluster ID,distance to cluster center" {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if lines[1] != "doc1,abc123,0.5" {
		t.Errorf("unexpected row: %q", lines[1])
	}
}

func TestWriteStatisticsHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	rows := []StatisticsRow{
		{ParentClusterID: "", ClusterID: "root", RMSE: 0.0, ObjectCount: 300},
		{ParentClusterID: "root", ClusterID: "abc", RMSE: 0.707, ObjectCount: 150},
	}
	if err := WriteStatistics(&buf, rows); err != nil {
		t.Fatalf("WriteStatistics: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "parent cluster ID,cluster ID,RMSE,object count" {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if lines[2] != "root,abc,0.707,150" {
		t.Errorf("unexpected row: %q", lines[2])
	}
}

func TestWriteClusterSizeHistogramSkipsEmptyBuckets(t *testing.T) {
	root := treenode.New[int]()
	a := treenode.New[int]()
	v1, v2, v3 := 1, 2, 3
	a.Add(&v1)
	a.Add(&v2)
	b := treenode.New[int]()
	b.Add(&v3)
	rootKeyA, rootKeyB := 0, 0
	root.AddChild(&rootKeyA, a)
	root.AddChild(&rootKeyB, b)

	h := treenode.NewClusterHistogramCounter[int](4)
	treenode.Walk[int](root, h)

	var buf bytes.Buffer
	if err := WriteClusterSizeHistogram(&buf, h.Buckets); err != nil {
		t.Fatalf("WriteClusterSizeHistogram: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if lines[0] != "cluster size,count" {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 non-empty buckets (size 1 and size 2), got %v", lines)
	}
	if lines[1] != "1,1" || lines[2] != "2,1" {
		t.Errorf("unexpected bucket rows: %v", lines[1:])
	}
}
