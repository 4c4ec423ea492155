package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"

	"github.com/celvios/baobab-mlm-sub002/pkg/logger"
)

func TestRedisNotifierPublishesStageCompleted(t *testing.T) {
	client, mock := redismock.NewClientMock()
	n := NewRedisNotifier(client, "test.events", logger.Nop())

	ev := StageCompletedEvent{
		MemberID:    "m1",
		Stage:       "feeder",
		PromotedTo:  "bronze",
		CompletedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	want, err := json.Marshal(envelope{Type: eventStageCompleted, Payload: ev})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock.ExpectPublish("test.events", want).SetVal(1)

	if err := n.StageCompleted(context.Background(), ev); err != nil {
		t.Fatalf("StageCompleted: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRedisNotifierPublishesBonusEarned(t *testing.T) {
	client, mock := redismock.NewClientMock()
	n := NewRedisNotifier(client, "test.events", logger.Nop())

	ev := BonusEarnedEvent{
		BeneficiaryID:  "owner",
		SourceMemberID: "source",
		Stage:          "bronze",
		AmountCents:    480,
		EarnedAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	want, err := json.Marshal(envelope{Type: eventBonusEarned, Payload: ev})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock.ExpectPublish("test.events", want).SetVal(1)

	if err := n.BonusEarned(context.Background(), ev); err != nil {
		t.Fatalf("BonusEarned: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRedisNotifierPublishFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	n := NewRedisNotifier(client, "test.events", logger.Nop())

	ev := BonusEarnedEvent{BeneficiaryID: "owner", Stage: "feeder", AmountCents: 150}
	body, err := json.Marshal(envelope{Type: eventBonusEarned, Payload: ev})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock.ExpectPublish("test.events", body).SetErr(context.DeadlineExceeded)

	if err := n.BonusEarned(context.Background(), ev); err == nil {
		t.Fatal("publish failure should surface")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := NewLogNotifier(logger.Nop())
	if err := n.StageCompleted(context.Background(), StageCompletedEvent{MemberID: "m1"}); err != nil {
		t.Fatalf("StageCompleted: %v", err)
	}
	if err := n.BonusEarned(context.Background(), BonusEarnedEvent{BeneficiaryID: "m1"}); err != nil {
		t.Fatalf("BonusEarned: %v", err)
	}
}
