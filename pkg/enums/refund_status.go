package enums

// RefundStatus summarises how much of an order has been refunded.
type RefundStatus string

const (
	RefundStatusNone    RefundStatus = "none"
	RefundStatusPartial RefundStatus = "partial"
	RefundStatusFull    RefundStatus = "full"
)

func (s RefundStatus) String() string {
	return string(s)
}

// RefundRecordStatus tracks one refund attempt against the processor.
type RefundRecordStatus string

const (
	RefundRecordPending   RefundRecordStatus = "pending"
	RefundRecordSucceeded RefundRecordStatus = "succeeded"
	RefundRecordFailed    RefundRecordStatus = "failed"
)
