package performance

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType はパフォーマンスイベントの種別。
type EventType string

const (
	// EventTypePresent は定時出勤。
	EventTypePresent EventType = "Present"
	// EventTypeLate は遅刻。
	EventTypeLate EventType = "Late"
	// EventTypeAbsent は欠勤。
	EventTypeAbsent EventType = "Absent"
	// EventTypeTaskCompleted はタスク完了。
	EventTypeTaskCompleted EventType = "TaskCompleted"
	// EventTypeRecognition は評価・フィードバックの受信。
	EventTypeRecognition EventType = "Recognition"
)

// Detail は種別ごとに異なるイベントの中身。
// 実装はこのパッケージ内の型に限られる。
type Detail interface {
	Type() EventType
	Description() string
	Icon() string
	BadgeColor() string
	sealed()
}

// Present は定時出勤を表す。
type Present struct{}

func (Present) Type() EventType     { return EventTypePresent }
func (Present) Description() string { return "Present" }
func (Present) Icon() string        { return "check" }
func (Present) BadgeColor() string  { return "success" }
func (Present) sealed()             {}

// Late は遅刻を表す。
type Late struct {
	// CheckInTime は出勤時刻。記録がなければ空。
	CheckInTime string
}

func (Late) Type() EventType     { return EventTypeLate }
func (Late) Description() string { return "Late arrival" }
func (Late) Icon() string        { return "clock" }
func (Late) BadgeColor() string  { return "warning" }
func (Late) sealed()             {}

// Absent は欠勤を表す。
type Absent struct{}

func (Absent) Type() EventType     { return EventTypeAbsent }
func (Absent) Description() string { return "Absent" }
func (Absent) Icon() string        { return "times" }
func (Absent) BadgeColor() string  { return "danger" }
func (Absent) sealed()             {}

// TaskCompleted はタスク完了を表す。
type TaskCompleted struct {
	// TaskID は完了したタスクのID。
	TaskID string
	// Title はタスク名。
	Title string
}

func (TaskCompleted) Type() EventType       { return EventTypeTaskCompleted }
func (d TaskCompleted) Description() string { return fmt.Sprintf("Completed task '%s'", d.Title) }
func (TaskCompleted) Icon() string          { return "check-circle" }
func (TaskCompleted) BadgeColor() string    { return "success" }
func (TaskCompleted) sealed()               {}

// Recognition は評価メッセージの受信を表す。
type Recognition struct {
	// MessageID は元メッセージのID。
	MessageID string
	// Subject は件名。
	Subject string
	// Content は本文。
	Content string
}

func (Recognition) Type() EventType       { return EventTypeRecognition }
func (d Recognition) Description() string { return d.Subject + ": " + d.Content }
func (Recognition) Icon() string          { return "star" }
func (Recognition) BadgeColor() string    { return "info" }
func (Recognition) sealed()               {}

// Event は従業員に帰属するパフォーマンスイベント。
// 集計のたびに生成され、永続化されない。
type Event struct {
	// EmployeeID は従業員ID。
	EmployeeID string
	// EmployeeName は従業員の氏名。
	EmployeeName string
	// Date はイベントの日付。
	Date time.Time
	// Detail は種別ごとの中身。
	Detail Detail
}

// Type はイベント種別を返す。
func (e Event) Type() EventType {
	return e.Detail.Type()
}

// EventView はイベントのJSON表現。種別に依存するフィールドを平坦化する。
type EventView struct {
	// EmployeeID は従業員ID。
	EmployeeID string `json:"employeeId"`
	// EmployeeName は従業員の氏名。
	EmployeeName string `json:"employeeName"`
	// Type はイベント種別。
	Type EventType `json:"type"`
	// Description は表示用の説明。
	Description string `json:"description"`
	// Date はイベントの日付。
	Date time.Time `json:"date"`
	// Icon は表示用アイコン名。
	Icon string `json:"icon"`
	// BadgeColor はバッジの色。
	BadgeColor string `json:"badgeColor"`
}

// View はJSON表現に変換する。
func (e Event) View() EventView {
	return EventView{
		EmployeeID:   e.EmployeeID,
		EmployeeName: e.EmployeeName,
		Type:         e.Detail.Type(),
		Description:  e.Detail.Description(),
		Date:         e.Date,
		Icon:         e.Detail.Icon(),
		BadgeColor:   e.Detail.BadgeColor(),
	}
}

// MarshalJSON はEventViewの形でエンコードする。
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.View())
}

// Views はイベント列をJSON表現に変換する。空の場合もnilではなく空スライスを返す。
func Views(events []Event) []EventView {
	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, e.View())
	}
	return views
}
