package config

import (
	"fmt"
	"strings"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

const snapshotSuffix = ":snapshot"

// ExamSnapshotKey returns the cache key for a student's in-progress exam snapshot
func (r *CacheKeyStruct) ExamSnapshotKey(studentID int, examID string) string {
	return r.ExamSnapshotPrefix(studentID) + examID + snapshotSuffix
}

// ExamSnapshotPrefix returns the key prefix shared by all snapshots of one student
func (r *CacheKeyStruct) ExamSnapshotPrefix(studentID int) string {
	return fmt.Sprintf("student:%d:exam:", studentID)
}

// ExamSnapshotPattern returns a glob matching every snapshot key of one student
func (r *CacheKeyStruct) ExamSnapshotPattern(studentID int) string {
	return r.ExamSnapshotPrefix(studentID) + "*" + snapshotSuffix
}

// AllExamSnapshotsPattern returns a glob matching every snapshot key
func (r *CacheKeyStruct) AllExamSnapshotsPattern() string {
	return "student:*:exam:*" + snapshotSuffix
}

// ExamIDFromSnapshotKey extracts the exam id from a snapshot key owned by studentID.
// ok is false when the key belongs to another student or is not a snapshot key.
func (r *CacheKeyStruct) ExamIDFromSnapshotKey(studentID int, key string) (examID string, ok bool) {
	prefix := r.ExamSnapshotPrefix(studentID)
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, snapshotSuffix) {
		return "", false
	}
	examID = strings.TrimSuffix(strings.TrimPrefix(key, prefix), snapshotSuffix)
	if examID == "" || strings.Contains(examID, ":") {
		return "", false
	}
	return examID, true
}

var CacheKey = NewCacheKeyStruct()
