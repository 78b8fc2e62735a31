package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/workforce/internal/model"
)

// setupTestStore は一時ディレクトリのSQLiteでストアを構築する。
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "workforce.db"), nil)
	if err != nil {
		t.Fatalf("ストアの初期化に失敗: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fixedClock は固定時刻を返す関数を生成する。
func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func seedEmployee(t *testing.T, s *SQLiteStore, id, email string) {
	t.Helper()

	if _, err := s.CreateEmployee(context.Background(), model.Employee{
		ID: id, FirstName: "First" + id, LastName: "Last", Email: email,
	}); err != nil {
		t.Fatalf("従業員の登録に失敗: %v", err)
	}
}

// TestOpen はストアの初期化を検証する。
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("同じファイルを2回開いてもマイグレーションが失敗しないこと", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "reopen.db")
		s1, err := Open(context.Background(), path, nil)
		if err != nil {
			t.Fatalf("1回目のOpen()でエラーが発生: %v", err)
		}
		_ = s1.Close()

		s2, err := Open(context.Background(), path, nil)
		if err != nil {
			t.Fatalf("2回目のOpen()でエラーが発生: %v", err)
		}
		defer s2.Close()
		if err := s2.Ping(context.Background()); err != nil {
			t.Errorf("Ping()でエラーが発生: %v", err)
		}
	})

	t.Run("インメモリDBでも利用できること", func(t *testing.T) {
		t.Parallel()

		s, err := Open(context.Background(), ":memory:", nil)
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		defer s.Close()

		employees, err := s.ListEmployees(context.Background())
		if err != nil {
			t.Fatalf("ListEmployees()でエラーが発生: %v", err)
		}
		if len(employees) != 0 {
			t.Errorf("件数 = %d, want 0", len(employees))
		}
	})
}

// TestEmployees は従業員の登録と取得を検証する。
func TestEmployees(t *testing.T) {
	t.Parallel()

	t.Run("メールアドレスで大文字小文字を区別せず取得できること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		seedEmployee(t, s, "Emp003", "emp3@co.com")

		e, err := s.GetEmployeeByEmail(context.Background(), "EMP3@co.com")
		if err != nil {
			t.Fatalf("GetEmployeeByEmail()でエラーが発生: %v", err)
		}
		if e.ID != "Emp003" {
			t.Errorf("ID = %q, want %q", e.ID, "Emp003")
		}
	})

	t.Run("存在しない従業員でErrNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		if _, err := s.GetEmployee(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		if _, err := s.GetEmployeeByEmail(context.Background(), "no@co.com"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("重複したIDでErrDuplicateが返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		seedEmployee(t, s, "Emp001", "emp1@co.com")
		_, err := s.CreateEmployee(context.Background(), model.Employee{ID: "Emp001", FirstName: "X", Email: "x@co.com"})
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("err = %v, want ErrDuplicate", err)
		}
	})

	t.Run("一覧がID順で返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		seedEmployee(t, s, "Emp002", "emp2@co.com")
		seedEmployee(t, s, "Emp001", "emp1@co.com")

		employees, err := s.ListEmployees(context.Background())
		if err != nil {
			t.Fatalf("ListEmployees()でエラーが発生: %v", err)
		}
		if len(employees) != 2 || employees[0].ID != "Emp001" || employees[1].ID != "Emp002" {
			t.Errorf("employees = %+v", employees)
		}
	})
}

// TestMarkAttendance は勤怠記録を検証する。
func TestMarkAttendance(t *testing.T) {
	t.Parallel()

	t.Run("本日の日付で記録され同日の2回目はErrAttendanceExistsになること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		s.now = fixedClock(time.Date(2025, 7, 1, 9, 15, 0, 0, time.UTC))
		checkIn := "09:15"

		a, err := s.MarkAttendance(context.Background(), model.Attendance{
			EmployeeID: "Emp001", IsPresent: true, IsLate: true, CheckInTime: &checkIn, MarkedBy: "admin",
		})
		if err != nil {
			t.Fatalf("MarkAttendance()でエラーが発生: %v", err)
		}
		if !a.Date.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("Date = %v, want 2025-07-01", a.Date)
		}

		_, err = s.MarkAttendance(context.Background(), model.Attendance{EmployeeID: "Emp001", IsPresent: true})
		if !errors.Is(err, ErrAttendanceExists) {
			t.Errorf("err = %v, want ErrAttendanceExists", err)
		}

		records, err := s.ListAttendance(context.Background())
		if err != nil {
			t.Fatalf("ListAttendance()でエラーが発生: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("件数 = %d, want 1", len(records))
		}
		got := records[0]
		if !got.IsPresent || !got.IsLate || got.CheckInTime == nil || *got.CheckInTime != "09:15" {
			t.Errorf("record = %+v", got)
		}
		if !got.Date.Equal(a.Date) {
			t.Errorf("読み戻した日付 = %v, want %v", got.Date, a.Date)
		}
	})

	t.Run("欠勤の場合は遅刻フラグと出勤時刻が消去されること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		checkIn := "10:00"
		a, err := s.MarkAttendance(context.Background(), model.Attendance{
			EmployeeID: "Emp002", IsPresent: false, IsLate: true, CheckInTime: &checkIn,
		})
		if err != nil {
			t.Fatalf("MarkAttendance()でエラーが発生: %v", err)
		}
		if a.IsLate || a.CheckInTime != nil {
			t.Errorf("欠勤なのに遅刻情報が残っている: %+v", a)
		}
	})

	t.Run("別の日であれば同じ従業員でも記録できること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		s.now = fixedClock(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))
		if _, err := s.MarkAttendance(context.Background(), model.Attendance{EmployeeID: "Emp001", IsPresent: true}); err != nil {
			t.Fatalf("1日目でエラーが発生: %v", err)
		}
		s.now = fixedClock(time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC))
		if _, err := s.MarkAttendance(context.Background(), model.Attendance{EmployeeID: "Emp001", IsPresent: true}); err != nil {
			t.Fatalf("2日目でエラーが発生: %v", err)
		}
	})
}

// TestTasks はタスクの登録・更新・削除を検証する。
func TestTasks(t *testing.T) {
	t.Parallel()

	t.Run("新規タスクは常にPendingで登録されること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		task, err := s.CreateTask(context.Background(), model.Task{
			Title: "Ship report", AssignedToEmployeeID: "Emp002",
			DueDate: time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC), Status: model.TaskStatusCompleted,
		})
		if err != nil {
			t.Fatalf("CreateTask()でエラーが発生: %v", err)
		}
		if task.Status != model.TaskStatusPending {
			t.Errorf("Status = %q, want Pending", task.Status)
		}
		if task.Priority != "Medium" {
			t.Errorf("Priority = %q, want Medium", task.Priority)
		}

		got, err := s.GetTask(context.Background(), task.ID)
		if err != nil {
			t.Fatalf("GetTask()でエラーが発生: %v", err)
		}
		if got.Title != "Ship report" || !got.DueDate.Equal(task.DueDate) {
			t.Errorf("got = %+v", got)
		}
	})

	t.Run("更新で更新前のタスクが返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		task, err := s.CreateTask(context.Background(), model.Task{
			Title: "Draft", AssignedToEmployeeID: "Emp001", DueDate: time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("CreateTask()でエラーが発生: %v", err)
		}

		updated := *task
		updated.Status = model.TaskStatusCompleted
		updated.Title = "Final"
		prev, err := s.UpdateTask(context.Background(), updated)
		if err != nil {
			t.Fatalf("UpdateTask()でエラーが発生: %v", err)
		}
		if prev.Status != model.TaskStatusPending || prev.Title != "Draft" {
			t.Errorf("prev = %+v", prev)
		}

		tasks, err := s.ListTasks(context.Background())
		if err != nil {
			t.Fatalf("ListTasks()でエラーが発生: %v", err)
		}
		if len(tasks) != 1 || tasks[0].Status != model.TaskStatusCompleted || tasks[0].Title != "Final" {
			t.Errorf("tasks = %+v", tasks)
		}
	})

	t.Run("存在しないタスクの更新と削除でErrNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		if _, err := s.UpdateTask(context.Background(), model.Task{ID: "missing"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateTask err = %v, want ErrNotFound", err)
		}
		if _, err := s.DeleteTask(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeleteTask err = %v, want ErrNotFound", err)
		}
	})

	t.Run("削除で削除したタスクが返り一覧から消えること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		task, err := s.CreateTask(context.Background(), model.Task{
			Title: "Temp", AssignedToEmployeeID: "Emp001", DueDate: time.Now(),
		})
		if err != nil {
			t.Fatalf("CreateTask()でエラーが発生: %v", err)
		}

		deleted, err := s.DeleteTask(context.Background(), task.ID)
		if err != nil {
			t.Fatalf("DeleteTask()でエラーが発生: %v", err)
		}
		if deleted.Title != "Temp" {
			t.Errorf("Title = %q, want Temp", deleted.Title)
		}
		if _, err := s.GetTask(context.Background(), task.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("削除後のGetTask err = %v, want ErrNotFound", err)
		}
	})
}

// TestMessagesAndAnnouncements はメッセージとお知らせの登録を検証する。
func TestMessagesAndAnnouncements(t *testing.T) {
	t.Parallel()

	t.Run("メッセージは現在時刻かつ未読で登録されること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		now := time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)
		s.now = fixedClock(now)

		m, err := s.CreateMessage(context.Background(), model.Message{
			Sender: "boss@co.com", Receiver: "emp3@co.com",
			Subject: "Outstanding Performance", Content: "Great job",
			Time: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), Read: true,
		})
		if err != nil {
			t.Fatalf("CreateMessage()でエラーが発生: %v", err)
		}
		if !m.Time.Equal(now) || m.Read {
			t.Errorf("m = %+v", m)
		}

		messages, err := s.ListMessages(context.Background())
		if err != nil {
			t.Fatalf("ListMessages()でエラーが発生: %v", err)
		}
		if len(messages) != 1 || messages[0].Subject != "Outstanding Performance" || !messages[0].Time.Equal(now) {
			t.Errorf("messages = %+v", messages)
		}
	})

	t.Run("お知らせが登録されIDが採番されること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		a, err := s.CreateAnnouncement(context.Background(), model.Announcement{
			Author: "hr@co.com", Title: "Holiday", Content: "Office closed",
		})
		if err != nil {
			t.Fatalf("CreateAnnouncement()でエラーが発生: %v", err)
		}
		if a.ID == "" || a.Date.IsZero() {
			t.Errorf("a = %+v", a)
		}
	})
}

// TestAttendanceQueries は勤怠の照会と修正を検証する。
func TestAttendanceQueries(t *testing.T) {
	t.Parallel()

	// markOn はdayの日付で勤怠を記録する。
	markOn := func(t *testing.T, s *SQLiteStore, day time.Time, empID string, present bool) *model.Attendance {
		t.Helper()
		s.now = fixedClock(day)
		a, err := s.MarkAttendance(context.Background(), model.Attendance{EmployeeID: empID, IsPresent: present})
		if err != nil {
			t.Fatalf("MarkAttendance()でエラーが発生: %v", err)
		}
		return a
	}

	t.Run("従業員ごとの記録が新しい日付順で返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		markOn(t, s, time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC), "Emp001", true)
		markOn(t, s, time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC), "Emp001", false)
		markOn(t, s, time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC), "Emp002", true)

		records, err := s.ListAttendanceByEmployee(context.Background(), "Emp001")
		if err != nil {
			t.Fatalf("ListAttendanceByEmployee()でエラーが発生: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("件数 = %d, want 2", len(records))
		}
		if records[0].Date.Day() != 2 || records[1].Date.Day() != 1 {
			t.Errorf("日付順 = %v, %v", records[0].Date, records[1].Date)
		}
	})

	t.Run("日付指定と本日の照会がその日の記録だけを返すこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		markOn(t, s, time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC), "Emp001", true)
		markOn(t, s, time.Date(2025, 7, 2, 8, 0, 0, 0, time.UTC), "Emp002", true)
		markOn(t, s, time.Date(2025, 7, 2, 10, 0, 0, 0, time.UTC), "Emp001", true)

		byDate, err := s.ListAttendanceByDate(context.Background(), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("ListAttendanceByDate()でエラーが発生: %v", err)
		}
		if len(byDate) != 1 || byDate[0].EmployeeID != "Emp001" {
			t.Errorf("byDate = %+v", byDate)
		}

		today, err := s.ListTodayAttendance(context.Background())
		if err != nil {
			t.Fatalf("ListTodayAttendance()でエラーが発生: %v", err)
		}
		if len(today) != 2 || today[0].EmployeeID != "Emp001" || today[1].EmployeeID != "Emp002" {
			t.Errorf("today = %+v", today)
		}
	})

	t.Run("修正で出欠と遅刻が書き換わり日付は変わらないこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		a := markOn(t, s, time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC), "Emp001", false)

		checkIn := "09:40"
		updated, err := s.UpdateAttendance(context.Background(), model.Attendance{
			ID: a.ID, IsPresent: true, IsLate: true, CheckInTime: &checkIn, MarkedBy: "admin",
		})
		if err != nil {
			t.Fatalf("UpdateAttendance()でエラーが発生: %v", err)
		}
		if updated.EmployeeID != "Emp001" || !updated.Date.Equal(a.Date) {
			t.Errorf("updated = %+v", updated)
		}

		records, err := s.ListAttendanceByEmployee(context.Background(), "Emp001")
		if err != nil {
			t.Fatalf("ListAttendanceByEmployee()でエラーが発生: %v", err)
		}
		got := records[0]
		if !got.IsPresent || !got.IsLate || got.CheckInTime == nil || *got.CheckInTime != "09:40" || got.MarkedBy != "admin" {
			t.Errorf("record = %+v", got)
		}
	})

	t.Run("存在しない記録の修正でErrNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		_, err := s.UpdateAttendance(context.Background(), model.Attendance{ID: "missing", IsPresent: true})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

// TestMessageEdits はメッセージの照会・編集・削除を検証する。
func TestMessageEdits(t *testing.T) {
	t.Parallel()

	t.Run("受信者ごとの一覧は大文字小文字を区別しないこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		for _, to := range []string{"emp3@co.com", "EMP3@co.com", "emp1@co.com"} {
			if _, err := s.CreateMessage(context.Background(), model.Message{Sender: "boss@co.com", Receiver: to, Content: "x"}); err != nil {
				t.Fatalf("CreateMessage()でエラーが発生: %v", err)
			}
		}

		inbox, err := s.ListMessagesForRecipient(context.Background(), "Emp3@Co.com")
		if err != nil {
			t.Fatalf("ListMessagesForRecipient()でエラーが発生: %v", err)
		}
		if len(inbox) != 2 {
			t.Errorf("件数 = %d, want 2", len(inbox))
		}
	})

	t.Run("編集で更新前が返り送信日時は変わらないこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		sent := time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)
		s.now = fixedClock(sent)
		m, err := s.CreateMessage(context.Background(), model.Message{
			Sender: "boss@co.com", Receiver: "emp3@co.com", Subject: "Lunch", Content: "noon",
		})
		if err != nil {
			t.Fatalf("CreateMessage()でエラーが発生: %v", err)
		}

		edited := *m
		edited.Subject = "Recognition"
		edited.Read = true
		prev, err := s.UpdateMessage(context.Background(), edited)
		if err != nil {
			t.Fatalf("UpdateMessage()でエラーが発生: %v", err)
		}
		if prev.Subject != "Lunch" || prev.Read {
			t.Errorf("prev = %+v", prev)
		}

		got, err := s.GetMessage(context.Background(), m.ID)
		if err != nil {
			t.Fatalf("GetMessage()でエラーが発生: %v", err)
		}
		if got.Subject != "Recognition" || !got.Read || !got.Time.Equal(sent) {
			t.Errorf("got = %+v", got)
		}
	})

	t.Run("削除で削除したメッセージが返り再取得はErrNotFoundになること", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t)
		m, err := s.CreateMessage(context.Background(), model.Message{Sender: "a@co.com", Receiver: "b@co.com", Content: "x"})
		if err != nil {
			t.Fatalf("CreateMessage()でエラーが発生: %v", err)
		}

		deleted, err := s.DeleteMessage(context.Background(), m.ID)
		if err != nil {
			t.Fatalf("DeleteMessage()でエラーが発生: %v", err)
		}
		if deleted.ID != m.ID {
			t.Errorf("deleted.ID = %q, want %q", deleted.ID, m.ID)
		}
		if _, err := s.GetMessage(context.Background(), m.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		if _, err := s.DeleteMessage(context.Background(), m.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("2回目の削除 err = %v, want ErrNotFound", err)
		}
	})
}
