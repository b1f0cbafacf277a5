package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/internal/payments"
	"github.com/angelmondragon/shipsplit-backend/pkg/config"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/metrics"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox/payloads"
)

// Outcome is the result of one payee settlement attempt.
type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeDeferred       Outcome = "deferred"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeFailed         Outcome = "failed"
	// OutcomeUnconfirmed means the transfer may have executed; the payout
	// stays pending and is replayed with the same key once stale.
	OutcomeUnconfirmed Outcome = "unconfirmed"
)

// Result describes what happened to one payee's share of an order or delivery.
type Result struct {
	Kind        enums.PayeeKind `json:"kind"`
	PayeeID     uuid.UUID       `json:"payee_id"`
	SourceID    uuid.UUID       `json:"source_id"`
	PayoutID    uuid.UUID       `json:"payout_id,omitempty"`
	AmountCents int64           `json:"amount_cents"`
	Outcome     Outcome         `json:"outcome"`
	TransferRef string          `json:"transfer_ref,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Transferer sends funds to a connected payee account.
type Transferer interface {
	CreateTransfer(ctx context.Context, req payments.TransferRequest) (*payments.Transfer, error)
}

// AccountReader resolves payout destinations.
type AccountReader interface {
	FindByPayee(ctx context.Context, kind enums.PayeeKind, payeeID uuid.UUID) (*models.PayoutAccount, error)
	ListEnabled(ctx context.Context, kind enums.PayeeKind) ([]models.PayoutAccount, error)
}

type EngineParams struct {
	DB        *gorm.DB
	Tx        txRunner
	Outbox    outboxPublisher
	Accounts  AccountReader
	Transfers Transferer
	Metrics   *metrics.SettlementMetrics
	Logger    *logger.Logger
	Config    config.SettlementConfig
	Now       func() time.Time
}

// Engine turns delivered orders and deliveries into exactly-once payouts.
type Engine struct {
	db          *gorm.DB
	tx          txRunner
	outbox      outboxPublisher
	accounts    AccountReader
	transfers   Transferer
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger
	feePercent  int64
	houseVendor uuid.UUID
	staleAfter  time.Duration
	now         func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil || params.Tx == nil {
		return nil, fmt.Errorf("database required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("payout account reader required")
	}
	if params.Transfers == nil {
		return nil, fmt.Errorf("transferer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	var house uuid.UUID
	if params.Config.HouseVendorID != "" {
		parsed, err := uuid.Parse(params.Config.HouseVendorID)
		if err != nil {
			return nil, fmt.Errorf("invalid house vendor id: %w", err)
		}
		house = parsed
	}
	stale := params.Config.StaleAfter
	if stale <= 0 {
		stale = 15 * time.Minute
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		db:          params.DB,
		tx:          params.Tx,
		outbox:      params.Outbox,
		accounts:    params.Accounts,
		transfers:   params.Transfers,
		metrics:     params.Metrics,
		logg:        params.Logger,
		feePercent:  params.Config.PlatformFeePercent,
		houseVendor: house,
		staleAfter:  stale,
		now:         now,
	}, nil
}

// transferJob is a claimed payout ready to be sent.
type transferJob struct {
	kind        enums.PayeeKind
	model       any
	claim       *claim
	payeeID     uuid.UUID
	sourceID    uuid.UUID
	amount      int64
	account     *models.PayoutAccount
	group       string
	description string
	metadata    map[string]string
	onPaid      func(tx *gorm.DB, transferRef string) error
}

// execute sends the transfer for a claimed row and records the result. The
// idempotency key only changes after the processor definitively rejected the
// previous attempt.
func (e *Engine) execute(ctx context.Context, job transferJob) (Result, error) {
	result := Result{
		Kind:        job.kind,
		PayeeID:     job.payeeID,
		SourceID:    job.sourceID,
		PayoutID:    job.claim.id,
		AmountCents: job.amount,
	}
	logCtx := e.logg.WithField(e.logg.WithPayee(ctx, string(job.kind), job.payeeID.String()), "payout_id", job.claim.id.String())

	metadata := map[string]string{
		payments.MetadataPayoutID:  job.claim.id.String(),
		payments.MetadataPayeeKind: string(job.kind),
	}
	for k, v := range job.metadata {
		metadata[k] = v
	}
	transfer, err := e.transfers.CreateTransfer(ctx, payments.TransferRequest{
		DestinationAccount: job.account.ExternalAccountID,
		AmountCents:        job.amount,
		TransferGroup:      job.group,
		Description:        job.description,
		Metadata:           metadata,
		IdempotencyKey:     fmt.Sprintf("%s_payout:%s:%d", job.kind, job.claim.id, job.claim.attempt),
	})
	if err != nil {
		result.Error = err.Error()
		if !payments.IsRejected(err) {
			if markErr := markUnconfirmed(ctx, e.db, job.model, job.claim.id, err.Error()); markErr != nil {
				e.logg.Error(logCtx, "record unconfirmed payout", markErr)
			}
			e.logg.Error(logCtx, "payout transfer outcome unknown; will replay the same attempt", err)
			e.metrics.RecordOutcome(string(job.kind), string(OutcomeUnconfirmed))
			result.Outcome = OutcomeUnconfirmed
			return result, err
		}
		if markErr := markFailed(ctx, e.db, job.model, job.claim.id, err.Error()); markErr != nil {
			e.logg.Error(logCtx, "record failed payout", markErr)
		}
		e.logg.Error(logCtx, "payout transfer rejected", err)
		e.metrics.RecordOutcome(string(job.kind), string(OutcomeFailed))
		result.Outcome = OutcomeFailed
		return result, err
	}

	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := markPaid(ctx, tx, job.model, job.claim.id, transfer.ID, e.now())
		if err != nil {
			return err
		}
		if !updated {
			return nil
		}
		if job.onPaid != nil {
			if err := job.onPaid(tx, transfer.ID); err != nil {
				return err
			}
		}
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutPaid,
			AggregateType: enums.AggregatePayout,
			AggregateID:   job.claim.id,
			Data: payloads.PayoutPaidEvent{
				PayoutID:    job.claim.id,
				Kind:        job.kind,
				PayeeID:     job.payeeID,
				SourceID:    job.sourceID,
				AmountCents: job.amount,
				TransferRef: transfer.ID,
			},
		})
	})
	if err != nil {
		// the row stays pending; once stale, catch-up replays the same attempt key
		e.logg.Error(e.logg.WithField(logCtx, "transfer_ref", transfer.ID), "record paid payout", err)
		e.metrics.RecordOutcome(string(job.kind), string(OutcomeFailed))
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result, err
	}

	e.metrics.RecordOutcome(string(job.kind), string(OutcomeSettled))
	e.metrics.AddPaid(string(job.kind), job.amount)
	e.logg.Info(e.logg.WithField(logCtx, "transfer_ref", transfer.ID), "payout settled")
	result.Outcome = OutcomeSettled
	result.TransferRef = transfer.ID
	return result, nil
}

func (e *Engine) record(kind enums.PayeeKind, result Result) Result {
	e.metrics.RecordOutcome(string(kind), string(result.Outcome))
	return result
}
