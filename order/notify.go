package order

import (
	"context"
	"log"

	"github.com/warp/incentive-ledger/ledger"
)

// =============================================================================
// NOTIFICATION SINK - Fire-and-forget
// =============================================================================

// Role identifies which side of the order a notification addresses.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Category groups notifications for client-side filtering.
type Category string

const (
	CategoryOrderStatus Category = "order_status"
	CategoryCommission  Category = "commission"
	CategoryReward      Category = "reward"
)

// Notifier is the fire-and-forget notification sink. Implementations must
// never block the caller on delivery; a failed notification must not abort
// the ledger operation that produced it.
type Notifier interface {
	Notify(ctx context.Context, subject ledger.SubjectID, role Role, title, message string, category Category)
}

// LogNotifier writes notifications to the process log. The default sink in
// cmd/server.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, subject ledger.SubjectID, role Role, title, message string, category Category) {
	log.Printf("[Notify] %s/%s (%s): %s - %s", subject, role, category, title, message)
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, ledger.SubjectID, Role, string, string, Category) {}
