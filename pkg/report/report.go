// pkg/report/report.go
// Package report writes cluster-membership and cluster-statistics output
// in the system's canonical CSV formats, and offers a SQLite sink for
// downstream enrichment queries over the same rows.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"unsafe"
)

// ClusterID renders key's pointer identity as lowercase hexadecimal. IDs
// are unique within one run but are not meaningful across runs -- callers
// must not persist them as stable identifiers.
func ClusterID[T any](key *T) string {
	return fmt.Sprintf("%x", uintptr(unsafe.Pointer(key)))
}

// MembershipRow is one row of cluster-membership output: an object routed
// to a cluster center at some distance, at one tree level.
type MembershipRow struct {
	ObjectID  string
	ClusterID string
	Distance  float64
}

// WriteMembership writes rows as CSV with the header
// "object ID, cluster ID, distance to cluster center".
func WriteMembership(w io.Writer, rows []MembershipRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"object ID", "cluster ID", "distance to cluster center"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{r.ObjectID, r.ClusterID, strconv.FormatFloat(r.Distance, 'g', -1, 64)}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// StatisticsRow is one row of cluster-statistics output: one cluster's
// RMSE and object count, with the ID of its parent cluster (empty at the
// root level, which has no parent).
type StatisticsRow struct {
	ParentClusterID string
	ClusterID       string
	RMSE            float64
	ObjectCount     int
}

// WriteStatistics writes rows as CSV with the header
// "parent cluster ID, cluster ID, RMSE, object count".
func WriteStatistics(w io.Writer, rows []StatisticsRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"parent cluster ID", "cluster ID", "RMSE", "object count"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.ParentClusterID,
			r.ClusterID,
			strconv.FormatFloat(r.RMSE, 'g', -1, 64),
			strconv.Itoa(r.ObjectCount),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteClusterSizeHistogram writes the bucket counts produced by a
// treenode.ClusterHistogramCounter as CSV with the header
// "cluster size, count", one row per non-empty bucket.
func WriteClusterSizeHistogram(w io.Writer, buckets []int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"cluster size", "count"}); err != nil {
		return err
	}
	for size, count := range buckets {
		if count == 0 {
			continue
		}
		if err := cw.Write([]string{strconv.Itoa(size), strconv.Itoa(count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
