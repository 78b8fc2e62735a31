package performance

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/nao1215/workforce/internal/model"
)

const (
	// rankingLimit はランキングの最大件数。
	rankingLimit = 5
	// recentFeedbackLimit はスナップショットに含める評価コメントの最大件数。
	recentFeedbackLimit = 3
)

// Source は集計対象のレコードを読み取るインターフェース。
// store.SQLiteStoreが実装する。
type Source interface {
	ListEmployees(ctx context.Context) ([]model.Employee, error)
	ListAttendance(ctx context.Context) ([]model.Attendance, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	ListMessages(ctx context.Context) ([]model.Message, error)
}

// Engine はパフォーマンスイベントの集計エンジン。
//
// 状態を持たないため並行に呼び出してよい。どの操作も呼び出しごとに
// 従業員・勤怠・タスク・メッセージの全件を読み直すので、
// 1回あたりのコストは総レコード数に比例する。
type Engine struct {
	source Source
	logger *slog.Logger
}

// NewEngine はEngineを生成する。loggerがnilの場合は出力しない。
func NewEngine(source Source, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		source: source,
		logger: logger.With(slog.String("component", "performance")),
	}
}

// TopPerformer は上位者ランキングの1行。
type TopPerformer struct {
	// EmployeeID は従業員ID。
	EmployeeID string `json:"employeeId"`
	// EmployeeName は従業員の氏名。
	EmployeeName string `json:"employeeName"`
	// Score は出勤とタスク完了の件数。
	Score int `json:"score"`
	// LastEvent は対象イベントの最新日付。
	LastEvent time.Time `json:"lastEvent"`
}

// AttentionItem は要注意ランキングの1行。
type AttentionItem struct {
	// EmployeeID は従業員ID。
	EmployeeID string `json:"employeeId"`
	// EmployeeName は従業員の氏名。
	EmployeeName string `json:"employeeName"`
	// Issues は遅刻と欠勤の件数。
	Issues int `json:"issues"`
	// LastEvent は対象イベントの最新日付。
	LastEvent time.Time `json:"lastEvent"`
}

// Snapshot は従業員1人分の集計値。
type Snapshot struct {
	// AttendancePct は出勤率（遅刻を含む）。記録がなければ0。
	AttendancePct int `json:"attendancePct"`
	// TasksCompleted は完了タスク数。
	TasksCompleted int `json:"tasksCompleted"`
	// Recognitions は受け取った評価メッセージ数。
	Recognitions int `json:"recognitions"`
	// Late は遅刻数。
	Late int `json:"late"`
	// Absent は欠勤数。
	Absent int `json:"absent"`
	// RecentFeedback は新しい順に最大3件の評価コメント。
	RecentFeedback []string `json:"recentFeedback"`
}

// Feed は全従業員のイベントを日付の新しい順に返す。
func (e *Engine) Feed(ctx context.Context) ([]Event, error) {
	return e.collect(ctx, "")
}

// Timeline は指定した従業員のイベントを日付の新しい順に返す。
// 該当がなければ空スライスを返す。
func (e *Engine) Timeline(ctx context.Context, employeeID string) ([]Event, error) {
	if employeeID == "" {
		return []Event{}, nil
	}
	return e.collect(ctx, employeeID)
}

// TopPerformers は出勤とタスク完了の件数で上位5人を返す。
func (e *Engine) TopPerformers(ctx context.Context) ([]TopPerformer, error) {
	events, err := e.collect(ctx, "")
	if err != nil {
		return nil, err
	}
	tallies := rank(events, EventTypeTaskCompleted, EventTypePresent)
	result := make([]TopPerformer, 0, len(tallies))
	for _, t := range tallies {
		result = append(result, TopPerformer{
			EmployeeID:   t.employeeID,
			EmployeeName: t.employeeName,
			Score:        t.count,
			LastEvent:    t.lastEvent,
		})
	}
	return result, nil
}

// NeedsAttention は遅刻と欠勤の件数で上位5人を返す。
func (e *Engine) NeedsAttention(ctx context.Context) ([]AttentionItem, error) {
	events, err := e.collect(ctx, "")
	if err != nil {
		return nil, err
	}
	tallies := rank(events, EventTypeLate, EventTypeAbsent)
	result := make([]AttentionItem, 0, len(tallies))
	for _, t := range tallies {
		result = append(result, AttentionItem{
			EmployeeID:   t.employeeID,
			EmployeeName: t.employeeName,
			Issues:       t.count,
			LastEvent:    t.lastEvent,
		})
	}
	return result, nil
}

// Snapshot は従業員1人分の集計値を返す。未知の従業員はすべて0になる。
func (e *Engine) Snapshot(ctx context.Context, employeeID string) (*Snapshot, error) {
	events, err := e.Timeline(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return summarize(events), nil
}

// summarize は新しい順に並んだイベントからスナップショットを作る。
func summarize(events []Event) *Snapshot {
	snap := &Snapshot{RecentFeedback: []string{}}
	present := 0
	for _, ev := range events {
		switch d := ev.Detail.(type) {
		case Present:
			present++
		case Late:
			snap.Late++
		case Absent:
			snap.Absent++
		case TaskCompleted:
			snap.TasksCompleted++
		case Recognition:
			snap.Recognitions++
			if len(snap.RecentFeedback) < recentFeedbackLimit {
				snap.RecentFeedback = append(snap.RecentFeedback, d.Description())
			}
		}
	}
	if total := present + snap.Late + snap.Absent; total > 0 {
		snap.AttendancePct = int(math.Round(100 * float64(present+snap.Late) / float64(total)))
	}
	return snap
}

// directory は集計時点の従業員ディレクトリ。
type directory struct {
	byID    map[string]model.Employee
	byEmail map[string]model.Employee
}

func newDirectory(employees []model.Employee) directory {
	d := directory{
		byID:    make(map[string]model.Employee, len(employees)),
		byEmail: make(map[string]model.Employee, len(employees)),
	}
	for _, emp := range employees {
		d.byID[emp.ID] = emp
		if emp.Email != "" {
			d.byEmail[strings.ToLower(emp.Email)] = emp
		}
	}
	return d
}

// collect は全ソースを読み込み、イベント列を組み立てる。
// employeeIDが空でなければその従業員のレコードだけを対象にする。
// ディレクトリで解決できない従業員のレコードは捨てる。
func (e *Engine) collect(ctx context.Context, employeeID string) ([]Event, error) {
	employees, err := e.source.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("従業員一覧の取得に失敗: %w", err)
	}
	attendance, err := e.source.ListAttendance(ctx)
	if err != nil {
		return nil, fmt.Errorf("勤怠一覧の取得に失敗: %w", err)
	}
	tasks, err := e.source.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗: %w", err)
	}
	messages, err := e.source.ListMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗: %w", err)
	}

	dir := newDirectory(employees)
	events := make([]Event, 0, len(attendance)+len(tasks))
	dropped := 0

	for _, a := range attendance {
		if employeeID != "" && a.EmployeeID != employeeID {
			continue
		}
		emp, ok := dir.byID[a.EmployeeID]
		if !ok {
			dropped++
			continue
		}
		events = append(events, newEvent(emp, a.Date, classifyAttendance(a)))
	}

	for _, t := range tasks {
		if t.Status != model.TaskStatusCompleted {
			continue
		}
		if employeeID != "" && t.AssignedToEmployeeID != employeeID {
			continue
		}
		emp, ok := dir.byID[t.AssignedToEmployeeID]
		if !ok {
			dropped++
			continue
		}
		events = append(events, newEvent(emp, t.DueDate, TaskCompleted{TaskID: t.ID, Title: t.Title}))
	}

	for _, m := range messages {
		if !model.IsRecognitionSubject(m.Subject) {
			continue
		}
		emp, ok := dir.byEmail[strings.ToLower(m.Receiver)]
		if !ok {
			dropped++
			continue
		}
		if employeeID != "" && emp.ID != employeeID {
			continue
		}
		events = append(events, newEvent(emp, m.Time, Recognition{
			MessageID: m.ID,
			Subject:   m.Subject,
			Content:   m.Content,
		}))
	}

	if dropped > 0 {
		e.logger.DebugContext(ctx, "従業員を解決できないレコードを除外しました",
			slog.Int("dropped", dropped),
			slog.String("employee_id", employeeID),
		)
	}

	slices.SortStableFunc(events, func(a, b Event) int {
		return b.Date.Compare(a.Date)
	})
	return events, nil
}

func newEvent(emp model.Employee, date time.Time, d Detail) Event {
	return Event{
		EmployeeID:   emp.ID,
		EmployeeName: emp.FullName(),
		Date:         date,
		Detail:       d,
	}
}

// classifyAttendance は勤怠記録を欠勤、遅刻、出勤のいずれかに分類する。
func classifyAttendance(a model.Attendance) Detail {
	switch {
	case !a.IsPresent:
		return Absent{}
	case a.IsLate:
		late := Late{}
		if a.CheckInTime != nil {
			late.CheckInTime = *a.CheckInTime
		}
		return late
	default:
		return Present{}
	}
}

type tally struct {
	employeeID   string
	employeeName string
	count        int
	lastEvent    time.Time
}

// rank は指定種別のイベントを従業員ごとに数え、
// 件数、最新日付の降順、従業員IDの昇順で上位を返す。
func rank(events []Event, types ...EventType) []tally {
	byEmployee := make(map[string]*tally)
	for _, ev := range events {
		if !slices.Contains(types, ev.Type()) {
			continue
		}
		t, ok := byEmployee[ev.EmployeeID]
		if !ok {
			t = &tally{employeeID: ev.EmployeeID, employeeName: ev.EmployeeName}
			byEmployee[ev.EmployeeID] = t
		}
		t.count++
		if ev.Date.After(t.lastEvent) {
			t.lastEvent = ev.Date
		}
	}

	tallies := make([]tally, 0, len(byEmployee))
	for _, t := range byEmployee {
		tallies = append(tallies, *t)
	}
	slices.SortFunc(tallies, func(a, b tally) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		if c := b.lastEvent.Compare(a.lastEvent); c != 0 {
			return c
		}
		return cmp.Compare(a.employeeID, b.employeeID)
	})
	if len(tallies) > rankingLimit {
		tallies = tallies[:rankingLimit]
	}
	return tallies
}
