package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Guard triggers live outside the migration files because the reopen path
// legitimately drops the status guard inside its transaction and recreates
// it afterwards. RegenerateTriggers must therefore be able to rebuild them
// from scratch at any time.

// StatusGuardTrigger is the name of the forward-only status guard.
const StatusGuardTrigger = "trg_tasks_status_forward"

var triggerDDL = []string{
	// Forward-only status transitions. Ranks come from status_ranks,
	// which SyncStatusRanks keeps aligned with the config.
	`CREATE TRIGGER IF NOT EXISTS trg_tasks_status_forward
	BEFORE UPDATE OF status ON tasks
	WHEN (SELECT ord FROM status_ranks WHERE name = NEW.status)
	   < (SELECT ord FROM status_ranks WHERE name = OLD.status)
	BEGIN
		SELECT RAISE(ABORT, 'backward status transition');
	END`,

	// Terminal status requires a closed_reason.
	`CREATE TRIGGER IF NOT EXISTS trg_tasks_closed_reason_update
	BEFORE UPDATE ON tasks
	WHEN NEW.status IN (SELECT name FROM v_terminal_status)
	 AND NEW.closed_reason IS NULL
	BEGIN
		SELECT RAISE(ABORT, 'terminal status requires closed_reason');
	END`,
	`CREATE TRIGGER IF NOT EXISTS trg_tasks_closed_reason_insert
	BEFORE INSERT ON tasks
	WHEN NEW.status IN (SELECT name FROM v_terminal_status)
	 AND NEW.closed_reason IS NULL
	BEGIN
		SELECT RAISE(ABORT, 'terminal status requires closed_reason');
	END`,

	// Non-terminal rows must not carry a closed_reason.
	`CREATE TRIGGER IF NOT EXISTS trg_tasks_open_reason
	BEFORE UPDATE ON tasks
	WHEN NEW.status NOT IN (SELECT name FROM v_terminal_status)
	 AND NEW.closed_reason IS NOT NULL
	BEGIN
		SELECT RAISE(ABORT, 'closed_reason set on non-terminal task');
	END`,

	// Keep is_deferred in sync with the [Deferred] summary prefix.
	`CREATE TRIGGER IF NOT EXISTS trg_tasks_deferred_insert
	AFTER INSERT ON tasks
	WHEN (NEW.summary LIKE '[Deferred]%') != NEW.is_deferred
	BEGIN
		UPDATE tasks SET is_deferred = (NEW.summary LIKE '[Deferred]%')
		WHERE id = NEW.id;
	END`,
	`CREATE TRIGGER IF NOT EXISTS trg_tasks_deferred_update
	AFTER UPDATE OF summary ON tasks
	WHEN (NEW.summary LIKE '[Deferred]%') != NEW.is_deferred
	BEGIN
		UPDATE tasks SET is_deferred = (NEW.summary LIKE '[Deferred]%')
		WHERE id = NEW.id;
	END`,
}

// EnsureTriggers creates any missing guard triggers. Idempotent.
func (d *DB) EnsureTriggers() error {
	for _, ddl := range triggerDDL {
		if _, err := d.db.Exec(ddl); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}
	return nil
}

// RegenerateTriggers drops and recreates every guard trigger. This is the
// dedicated operation the reopen path invokes after its transaction,
// success or rollback, so the status guard is never permanently absent.
func (d *DB) RegenerateTriggers() error {
	for _, name := range []string{
		StatusGuardTrigger,
		"trg_tasks_closed_reason_update",
		"trg_tasks_closed_reason_insert",
		"trg_tasks_open_reason",
		"trg_tasks_deferred_insert",
		"trg_tasks_deferred_update",
	} {
		if _, err := d.db.Exec("DROP TRIGGER IF EXISTS " + name); err != nil {
			return fmt.Errorf("drop trigger %s: %w", name, err)
		}
	}
	return d.EnsureTriggers()
}

// DropStatusGuard removes the forward-only status guard on the given
// connection. Callers must arrange for RegenerateTriggers to run
// afterwards, commit or rollback.
func DropStatusGuard(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, "DROP TRIGGER IF EXISTS "+StatusGuardTrigger); err != nil {
		return fmt.Errorf("drop status guard: %w", err)
	}
	return nil
}

// WarnTriggerRegenFailure surfaces a failed trigger regeneration loudly.
// A missing guard is a standing integrity hazard, not a transient blip.
func WarnTriggerRegenFailure(err error) {
	if err != nil {
		slog.Error("failed to regenerate status guard triggers; run 'tusk validate' and retry",
			"error", err)
	}
}
