package model

import (
	"strings"
	"time"
)

// Employee は従業員を表す。
type Employee struct {
	// ID は従業員ID（例: Emp001）。
	ID string `json:"id" db:"id"`
	// FirstName は名。
	FirstName string `json:"firstName" db:"first_name"`
	// LastName は姓。
	LastName string `json:"lastName" db:"last_name"`
	// Email はメールアドレス。メッセージの受信者解決に使用する。
	Email string `json:"email" db:"email"`
}

// FullName は表示用の氏名を返す。
func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// Attendance は1日分の勤怠記録を表す。従業員ごとに1日1件。
type Attendance struct {
	// ID は勤怠記録の一意識別子。
	ID string `json:"id" db:"id"`
	// EmployeeID は対象の従業員ID。
	EmployeeID string `json:"employeeId" db:"employee_id"`
	// Date は勤怠の日付（UTCの0時）。
	Date time.Time `json:"date" db:"date"`
	// IsPresent は出勤したかどうか。
	IsPresent bool `json:"isPresent" db:"is_present"`
	// IsLate は遅刻したかどうか。IsPresentがtrueの場合のみ意味を持つ。
	IsLate bool `json:"isLate" db:"is_late"`
	// CheckInTime は出勤時刻（HH:MM）。欠勤時はnil。
	CheckInTime *string `json:"checkInTime,omitempty" db:"check_in_time"`
	// MarkedBy は記録した利用者のアイデンティティ。
	MarkedBy string `json:"markedBy" db:"marked_by"`
}

// TaskStatus はタスクの状態。
type TaskStatus string

const (
	// TaskStatusPending は未着手。
	TaskStatusPending TaskStatus = "Pending"
	// TaskStatusInProgress は対応中。
	TaskStatusInProgress TaskStatus = "InProgress"
	// TaskStatusCompleted は完了。
	TaskStatusCompleted TaskStatus = "Completed"
	// TaskStatusCancelled は中止。
	TaskStatusCancelled TaskStatus = "Cancelled"
)

// Valid は定義済みの状態かどうかを返す。
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// Task は従業員に割り当てられたタスクを表す。
type Task struct {
	// ID はタスクの一意識別子。
	ID string `json:"id" db:"id"`
	// Title はタスク名。
	Title string `json:"title" db:"title"`
	// Description はタスクの説明。
	Description string `json:"description" db:"description"`
	// AssignedToEmployeeID は担当者の従業員ID。
	AssignedToEmployeeID string `json:"assignedToEmployeeId" db:"assigned_to_employee_id"`
	// DueDate は期限日。完了イベントの日付にも使われる。
	DueDate time.Time `json:"dueDate" db:"due_date"`
	// Priority は優先度（Low, Medium, High など）。
	Priority string `json:"priority" db:"priority"`
	// Status はタスクの状態。
	Status TaskStatus `json:"status" db:"status"`
}

// Message は従業員間のメッセージを表す。
type Message struct {
	// ID はメッセージの一意識別子。
	ID string `json:"id" db:"id"`
	// Sender は送信者のメールアドレス。
	Sender string `json:"sender" db:"sender"`
	// Receiver は受信者のメールアドレス。
	Receiver string `json:"receiver" db:"receiver"`
	// Subject は件名。
	Subject string `json:"subject" db:"subject"`
	// Content は本文。
	Content string `json:"content" db:"content"`
	// Time は送信日時（UTC）。
	Time time.Time `json:"time" db:"time"`
	// Read は既読フラグ。
	Read bool `json:"read" db:"read"`
}

// Announcement は全員向けのお知らせを表す。
type Announcement struct {
	// ID はお知らせの一意識別子。
	ID string `json:"id" db:"id"`
	// Author は投稿者。
	Author string `json:"author" db:"author"`
	// Title はタイトル。
	Title string `json:"title" db:"title"`
	// Content は本文。
	Content string `json:"content" db:"content"`
	// Date は投稿日時（UTC）。
	Date time.Time `json:"date" db:"date"`
}

// recognitionKeywords は評価メッセージとみなす件名のキーワード。
var recognitionKeywords = []string{"recognition", "feedback", "performance"}

// IsRecognitionSubject は件名が評価・フィードバックに関するものかを判定する。
// 小文字化した件名にキーワードが部分一致すれば真。
func IsRecognitionSubject(subject string) bool {
	s := strings.ToLower(subject)
	for _, kw := range recognitionKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// DateOnly は時刻をUTCの日付に切り詰める。
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
