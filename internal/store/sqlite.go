package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/workforce/internal/model"
	"github.com/nao1215/workforce/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound は対象のレコードが存在しないことを表す。
	ErrNotFound = errors.New("レコードが見つかりません")
	// ErrAttendanceExists は同じ従業員・同じ日の勤怠が既に記録されていることを表す。
	ErrAttendanceExists = errors.New("本日の勤怠は既に記録されています")
	// ErrDuplicate は一意制約に違反したことを表す。
	ErrDuplicate = errors.New("レコードが重複しています")
)

// SQLiteStore はSQLiteを使った永続化層。
type SQLiteStore struct {
	// db はsqlxでラップしたデータベース接続。
	db *sqlx.DB
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// Open はdbPathのSQLiteデータベースを開き、マイグレーションを適用する。
// ":memory:" を指定した場合は接続を1本に制限する。
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s の実行に失敗: %w", pragma, err)
		}
	}

	if err := migration.Run(ctx, db.DB, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		now: time.Now,
	}, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping は接続が生きているかを確認する。
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListEmployees は全従業員をID順に返す。
func (s *SQLiteStore) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	employees := []model.Employee{}
	if err := s.db.SelectContext(ctx, &employees,
		"SELECT id, first_name, last_name, email FROM employees ORDER BY id"); err != nil {
		return nil, fmt.Errorf("従業員一覧の取得に失敗: %w", err)
	}
	return employees, nil
}

// GetEmployee はIDで従業員を取得する。
func (s *SQLiteStore) GetEmployee(ctx context.Context, id string) (*model.Employee, error) {
	var e model.Employee
	err := s.db.GetContext(ctx, &e,
		"SELECT id, first_name, last_name, email FROM employees WHERE id = ?", id)
	if err != nil {
		return nil, wrapNotFound(err, "従業員 %s の取得に失敗", id)
	}
	return &e, nil
}

// GetEmployeeByEmail はメールアドレスで従業員を取得する。大文字小文字は区別しない。
func (s *SQLiteStore) GetEmployeeByEmail(ctx context.Context, email string) (*model.Employee, error) {
	var e model.Employee
	err := s.db.GetContext(ctx, &e,
		"SELECT id, first_name, last_name, email FROM employees WHERE lower(email) = lower(?)", email)
	if err != nil {
		return nil, wrapNotFound(err, "従業員 %s の取得に失敗", email)
	}
	return &e, nil
}

// CreateEmployee は従業員を登録する。IDが空の場合はUUIDを採番する。
func (s *SQLiteStore) CreateEmployee(ctx context.Context, e model.Employee) (*model.Employee, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO employees (id, first_name, last_name, email)
		VALUES (:id, :first_name, :last_name, :email)`, e)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("従業員 %s の登録に失敗: %w", e.ID, ErrDuplicate)
		}
		return nil, fmt.Errorf("従業員 %s の登録に失敗: %w", e.ID, err)
	}
	return &e, nil
}

// ListAttendance は全勤怠記録を日付、従業員ID順に返す。
func (s *SQLiteStore) ListAttendance(ctx context.Context) ([]model.Attendance, error) {
	records := []model.Attendance{}
	if err := s.db.SelectContext(ctx, &records, `
		SELECT id, employee_id, date, is_present, is_late, check_in_time, marked_by
		FROM attendance ORDER BY date, employee_id`); err != nil {
		return nil, fmt.Errorf("勤怠一覧の取得に失敗: %w", err)
	}
	return records, nil
}

// MarkAttendance は本日（UTC）の勤怠を記録する。
// 同じ従業員の本日分が既にある場合はErrAttendanceExistsを返す。
func (s *SQLiteStore) MarkAttendance(ctx context.Context, a model.Attendance) (*model.Attendance, error) {
	a.ID = uuid.New().String()
	a.Date = model.DateOnly(s.now())
	if !a.IsPresent {
		a.IsLate = false
		a.CheckInTime = nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.GetContext(ctx, &exists,
		"SELECT COUNT(*) FROM attendance WHERE employee_id = ? AND date = ?",
		a.EmployeeID, a.Date); err != nil {
		return nil, fmt.Errorf("勤怠の重複確認に失敗: %w", err)
	}
	if exists > 0 {
		return nil, ErrAttendanceExists
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance (id, employee_id, date, is_present, is_late, check_in_time, marked_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EmployeeID, a.Date, boolToInt(a.IsPresent), boolToInt(a.IsLate), a.CheckInTime, a.MarkedBy,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAttendanceExists
		}
		return nil, fmt.Errorf("勤怠の記録に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("勤怠のコミットに失敗: %w", err)
	}
	return &a, nil
}

const attendanceColumns = "id, employee_id, date, is_present, is_late, check_in_time, marked_by"

// ListAttendanceByEmployee は従業員の勤怠記録を新しい日付順に返す。
func (s *SQLiteStore) ListAttendanceByEmployee(ctx context.Context, employeeID string) ([]model.Attendance, error) {
	records := []model.Attendance{}
	if err := s.db.SelectContext(ctx, &records,
		"SELECT "+attendanceColumns+" FROM attendance WHERE employee_id = ? ORDER BY date DESC",
		employeeID); err != nil {
		return nil, fmt.Errorf("従業員 %s の勤怠取得に失敗: %w", employeeID, err)
	}
	return records, nil
}

// ListAttendanceByDate はdateと同じ日（UTC）の勤怠記録を従業員ID順に返す。
func (s *SQLiteStore) ListAttendanceByDate(ctx context.Context, date time.Time) ([]model.Attendance, error) {
	day := model.DateOnly(date)
	records := []model.Attendance{}
	if err := s.db.SelectContext(ctx, &records,
		"SELECT "+attendanceColumns+" FROM attendance WHERE date = ? ORDER BY employee_id",
		day); err != nil {
		return nil, fmt.Errorf("%s の勤怠取得に失敗: %w", day.Format(time.DateOnly), err)
	}
	return records, nil
}

// ListTodayAttendance は本日（UTC）の勤怠記録を返す。
func (s *SQLiteStore) ListTodayAttendance(ctx context.Context) ([]model.Attendance, error) {
	return s.ListAttendanceByDate(ctx, s.now())
}

// UpdateAttendance は勤怠記録の出欠、遅刻、出勤時刻、記録者を書き換え、更新後の記録を返す。
// 従業員と日付は変更しない。
func (s *SQLiteStore) UpdateAttendance(ctx context.Context, a model.Attendance) (*model.Attendance, error) {
	if !a.IsPresent {
		a.IsLate = false
		a.CheckInTime = nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current model.Attendance
	if err := tx.GetContext(ctx, &current,
		"SELECT "+attendanceColumns+" FROM attendance WHERE id = ?", a.ID); err != nil {
		return nil, wrapNotFound(err, "勤怠 %s の取得に失敗", a.ID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE attendance SET is_present = ?, is_late = ?, check_in_time = ?, marked_by = ?
		WHERE id = ?`,
		boolToInt(a.IsPresent), boolToInt(a.IsLate), a.CheckInTime, a.MarkedBy, a.ID,
	); err != nil {
		return nil, fmt.Errorf("勤怠 %s の更新に失敗: %w", a.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("勤怠更新のコミットに失敗: %w", err)
	}

	current.IsPresent = a.IsPresent
	current.IsLate = a.IsLate
	current.CheckInTime = a.CheckInTime
	current.MarkedBy = a.MarkedBy
	return &current, nil
}

// ListTasks は全タスクを期限日、ID順に返す。
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := s.db.SelectContext(ctx, &tasks, `
		SELECT id, title, description, assigned_to_employee_id, due_date, priority, status
		FROM tasks ORDER BY due_date, id`); err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗: %w", err)
	}
	return tasks, nil
}

// GetTask はIDでタスクを取得する。
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var t model.Task
	err := s.db.GetContext(ctx, &t, `
		SELECT id, title, description, assigned_to_employee_id, due_date, priority, status
		FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, wrapNotFound(err, "タスク %s の取得に失敗", id)
	}
	return &t, nil
}

// CreateTask はタスクを登録する。状態は常にPendingから始まる。
func (s *SQLiteStore) CreateTask(ctx context.Context, t model.Task) (*model.Task, error) {
	t.ID = uuid.New().String()
	t.Status = model.TaskStatusPending
	t.DueDate = t.DueDate.UTC()
	if t.Priority == "" {
		t.Priority = "Medium"
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tasks (id, title, description, assigned_to_employee_id, due_date, priority, status)
		VALUES (:id, :title, :description, :assigned_to_employee_id, :due_date, :priority, :status)`, t)
	if err != nil {
		return nil, fmt.Errorf("タスクの登録に失敗: %w", err)
	}
	return &t, nil
}

// UpdateTask はタスクを更新し、更新前のタスクを返す。
// 完了遷移の判定に更新前の状態が必要になる。
func (s *SQLiteStore) UpdateTask(ctx context.Context, t model.Task) (prev *model.Task, err error) {
	t.DueDate = t.DueDate.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var before model.Task
	if err := tx.GetContext(ctx, &before, `
		SELECT id, title, description, assigned_to_employee_id, due_date, priority, status
		FROM tasks WHERE id = ?`, t.ID); err != nil {
		return nil, wrapNotFound(err, "タスク %s の取得に失敗", t.ID)
	}

	if _, err := tx.NamedExecContext(ctx, `
		UPDATE tasks SET
			title = :title, description = :description,
			assigned_to_employee_id = :assigned_to_employee_id,
			due_date = :due_date, priority = :priority, status = :status
		WHERE id = :id`, t); err != nil {
		return nil, fmt.Errorf("タスク %s の更新に失敗: %w", t.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("タスク更新のコミットに失敗: %w", err)
	}
	return &before, nil
}

// DeleteTask はタスクを削除し、削除したタスクを返す。
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) (*model.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var t model.Task
	if err := tx.GetContext(ctx, &t, `
		SELECT id, title, description, assigned_to_employee_id, due_date, priority, status
		FROM tasks WHERE id = ?`, id); err != nil {
		return nil, wrapNotFound(err, "タスク %s の取得に失敗", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("タスク %s の削除に失敗: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("タスク削除のコミットに失敗: %w", err)
	}
	return &t, nil
}

// ListMessages は全メッセージを送信日時、ID順に返す。
func (s *SQLiteStore) ListMessages(ctx context.Context) ([]model.Message, error) {
	messages := []model.Message{}
	if err := s.db.SelectContext(ctx, &messages, `
		SELECT id, sender, receiver, subject, content, time, read
		FROM messages ORDER BY time, id`); err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗: %w", err)
	}
	return messages, nil
}

// CreateMessage はメッセージを登録する。送信日時は現在時刻、既読フラグはfalseになる。
func (s *SQLiteStore) CreateMessage(ctx context.Context, m model.Message) (*model.Message, error) {
	m.ID = uuid.New().String()
	m.Time = s.now().UTC()
	m.Read = false

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender, receiver, subject, content, time, read)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Sender, m.Receiver, m.Subject, m.Content, m.Time, boolToInt(m.Read),
	); err != nil {
		return nil, fmt.Errorf("メッセージの登録に失敗: %w", err)
	}
	return &m, nil
}

const messageColumns = "id, sender, receiver, subject, content, time, read"

// GetMessage はIDでメッセージを取得する。
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	if err := s.db.GetContext(ctx, &m,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id); err != nil {
		return nil, wrapNotFound(err, "メッセージ %s の取得に失敗", id)
	}
	return &m, nil
}

// ListMessagesForRecipient はreceiver宛のメッセージを送信日時順に返す。
// 大文字小文字は区別しない。
func (s *SQLiteStore) ListMessagesForRecipient(ctx context.Context, receiver string) ([]model.Message, error) {
	messages := []model.Message{}
	if err := s.db.SelectContext(ctx, &messages,
		"SELECT "+messageColumns+" FROM messages WHERE lower(receiver) = lower(?) ORDER BY time, id",
		receiver); err != nil {
		return nil, fmt.Errorf("%s 宛のメッセージ取得に失敗: %w", receiver, err)
	}
	return messages, nil
}

// UpdateMessage はメッセージの送受信者、件名、本文、既読フラグを更新し、更新前のメッセージを返す。
// 送信日時は変更しない。
func (s *SQLiteStore) UpdateMessage(ctx context.Context, m model.Message) (prev *model.Message, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var before model.Message
	if err := tx.GetContext(ctx, &before,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", m.ID); err != nil {
		return nil, wrapNotFound(err, "メッセージ %s の取得に失敗", m.ID)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET sender = ?, receiver = ?, subject = ?, content = ?, read = ?
		WHERE id = ?`,
		m.Sender, m.Receiver, m.Subject, m.Content, boolToInt(m.Read), m.ID,
	); err != nil {
		return nil, fmt.Errorf("メッセージ %s の更新に失敗: %w", m.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("メッセージ更新のコミットに失敗: %w", err)
	}
	return &before, nil
}

// DeleteMessage はメッセージを削除し、削除したメッセージを返す。
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) (*model.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var m model.Message
	if err := tx.GetContext(ctx, &m,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id); err != nil {
		return nil, wrapNotFound(err, "メッセージ %s の取得に失敗", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("メッセージ %s の削除に失敗: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("メッセージ削除のコミットに失敗: %w", err)
	}
	return &m, nil
}

// CreateAnnouncement はお知らせを登録する。
func (s *SQLiteStore) CreateAnnouncement(ctx context.Context, a model.Announcement) (*model.Announcement, error) {
	a.ID = uuid.New().String()
	a.Date = s.now().UTC()

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO announcements (id, author, title, content, date)
		VALUES (:id, :author, :title, :content, :date)`, a); err != nil {
		return nil, fmt.Errorf("お知らせの登録に失敗: %w", err)
	}
	return &a, nil
}

// wrapNotFound はsql.ErrNoRowsをErrNotFoundに変換してラップする。
func wrapNotFound(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// isUniqueViolation はSQLiteの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// boolToInt はSQLiteに保存するために真偽値を0/1へ変換する。
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
