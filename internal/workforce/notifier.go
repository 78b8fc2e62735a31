package workforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/nao1215/workforce/internal/model"
	"github.com/nao1215/workforce/internal/store"
	"github.com/nao1215/workforce/pkg/event"
)

// Dispatcher は通知の配信手段。notification.Hub、RemoteDispatcher、
// relay.Publisherが実装する。呼び出し元を配信完了まで待たせてはならない。
type Dispatcher interface {
	Broadcast(ctx context.Context, channel event.Channel, payload any) error
	SendTo(ctx context.Context, identity string, channel event.Channel, payload any) error
}

// EmployeeResolver はメールアドレスから従業員を引く。
type EmployeeResolver interface {
	GetEmployeeByEmail(ctx context.Context, email string) (*model.Employee, error)
}

// Notifier は業務イベントを通知に変換する。
// どのメソッドも書き込みのコミット後に呼ぶこと。配信の失敗はログに残すだけで返さない。
type Notifier struct {
	dispatcher Dispatcher
	resolver   EmployeeResolver
	logger     *slog.Logger
}

// NewNotifier はNotifierを生成する。loggerがnilの場合は出力しない。
func NewNotifier(dispatcher Dispatcher, resolver EmployeeResolver, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{
		dispatcher: dispatcher,
		resolver:   resolver,
		logger:     logger.With(slog.String("component", "notifier")),
	}
}

// AnnouncementCreated はお知らせを全接続へ配信する。
func (n *Notifier) AnnouncementCreated(ctx context.Context, a *model.Announcement) {
	n.dispatch(ctx, n.dispatcher.Broadcast(ctx, event.ChannelReceiveAnnouncement, a), event.ChannelReceiveAnnouncement, "")
}

// MessageSent はメッセージを受信者へ配信する。
// 件名が評価に関するものなら、受信者のパフォーマンス更新も通知する。
func (n *Notifier) MessageSent(ctx context.Context, m *model.Message) {
	identity := n.resolveReceiver(ctx, m.Receiver)
	n.sendTo(ctx, identity, event.ChannelReceiveMessage, m)
	if model.IsRecognitionSubject(m.Subject) {
		n.performanceUpdated(ctx, identity)
	}
}

// AttendanceMarked は勤怠を記録された従業員へパフォーマンス更新を通知する。
func (n *Notifier) AttendanceMarked(ctx context.Context, a *model.Attendance) {
	n.performanceUpdated(ctx, a.EmployeeID)
}

// AttendanceEdited は勤怠を修正された従業員へパフォーマンス更新を通知する。
func (n *Notifier) AttendanceEdited(ctx context.Context, a *model.Attendance) {
	n.performanceUpdated(ctx, a.EmployeeID)
}

// MessageEdited は評価メッセージの編集を、集計が変わる受信者へ通知する。
// 既読フラグだけの変更では通知しない。
func (n *Notifier) MessageEdited(ctx context.Context, prev, m *model.Message) {
	if prev.Receiver == m.Receiver && prev.Subject == m.Subject && prev.Content == m.Content {
		return
	}
	var targets []string
	if model.IsRecognitionSubject(prev.Subject) {
		targets = append(targets, n.resolveReceiver(ctx, prev.Receiver))
	}
	if model.IsRecognitionSubject(m.Subject) {
		targets = append(targets, n.resolveReceiver(ctx, m.Receiver))
	}
	for _, identity := range slices.Compact(targets) {
		n.performanceUpdated(ctx, identity)
	}
}

// MessageDeleted は評価メッセージが削除された受信者へパフォーマンス更新を通知する。
func (n *Notifier) MessageDeleted(ctx context.Context, m *model.Message) {
	if model.IsRecognitionSubject(m.Subject) {
		n.performanceUpdated(ctx, n.resolveReceiver(ctx, m.Receiver))
	}
}

// TaskCreated は担当者へタスクの割り当てを通知する。
func (n *Notifier) TaskCreated(ctx context.Context, t *model.Task) {
	n.sendTo(ctx, t.AssignedToEmployeeID, event.ChannelTaskAssigned,
		taskPayload(t, fmt.Sprintf("A new task '%s' has been assigned to you.", t.Title), true))
}

// TaskUpdated は担当者へタスクの更新を通知する。
// 完了していなかったタスクが完了になった場合はパフォーマンス更新も通知する。
func (n *Notifier) TaskUpdated(ctx context.Context, prev, t *model.Task) {
	n.sendTo(ctx, t.AssignedToEmployeeID, event.ChannelTaskUpdated,
		taskPayload(t, fmt.Sprintf("Your task '%s' has been updated.", t.Title), true))
	if t.Status == model.TaskStatusCompleted && (prev == nil || prev.Status != model.TaskStatusCompleted) {
		n.performanceUpdated(ctx, t.AssignedToEmployeeID)
	}
}

// TaskDeleted は担当者へタスクの削除を通知する。
func (n *Notifier) TaskDeleted(ctx context.Context, t *model.Task) {
	n.sendTo(ctx, t.AssignedToEmployeeID, event.ChannelTaskDeleted,
		taskPayload(t, fmt.Sprintf("Your task '%s' has been deleted.", t.Title), false))
}

func (n *Notifier) performanceUpdated(ctx context.Context, identity string) {
	n.sendTo(ctx, identity, event.ChannelPerformanceUpdated,
		event.PerformanceHint{Message: event.PerformanceHintMessage})
}

func (n *Notifier) sendTo(ctx context.Context, identity string, channel event.Channel, payload any) {
	if identity == "" {
		n.logger.DebugContext(ctx, "宛先のない通知を破棄しました", slog.String("channel", string(channel)))
		return
	}
	n.dispatch(ctx, n.dispatcher.SendTo(ctx, identity, channel, payload), channel, identity)
}

func (n *Notifier) dispatch(ctx context.Context, err error, channel event.Channel, identity string) {
	if err != nil {
		n.logger.WarnContext(ctx, "通知の配信に失敗しました",
			slog.String("channel", string(channel)),
			slog.String("identity", identity),
			slog.Any("error", err),
		)
	}
}

// resolveReceiver は受信者のメールアドレスを従業員IDに変換する。
// 解決できない場合はメールアドレスをそのままアイデンティティとして使う。
func (n *Notifier) resolveReceiver(ctx context.Context, receiver string) string {
	if n.resolver == nil {
		return receiver
	}
	emp, err := n.resolver.GetEmployeeByEmail(ctx, receiver)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			n.logger.WarnContext(ctx, "受信者の解決に失敗しました",
				slog.String("receiver", receiver),
				slog.Any("error", err),
			)
		}
		return receiver
	}
	return emp.ID
}

func taskPayload(t *model.Task, msg string, withDueDate bool) event.TaskPayload {
	p := event.TaskPayload{
		TaskID:  t.ID,
		Title:   t.Title,
		Message: msg,
	}
	if withDueDate {
		due := t.DueDate.UTC().Truncate(time.Second)
		p.DueDate = &due
	}
	return p
}
