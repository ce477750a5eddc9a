//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"konnekt-chat/domain"
	"konnekt-chat/runtime"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging during supervision, so workers don't need to name themselves.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IChatRepository owns one user's socket and exposes the inbound messages as
// a multicast stream.
type IChatRepository interface {
	Subscribe() *runtime.Subscription[domain.Message]
	SubscribeState() *runtime.Subscription[domain.ConnectionState]
	SendMessage(recipientID, body string) error
	Send(msg domain.OutboundMessage) error
	IsOpen() bool
	State() domain.ConnectionState
	Dial(ctx context.Context) error
	Close() error
}

// IHistoryClient reads the persisted history of a conversation.
type IHistoryClient interface {
	GetMessages(ctx context.Context, chatID string) ([]domain.Message, error)
}
