package enums

// RefundStatus tracks a single refund request against the processor.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusSucceeded RefundStatus = "SUCCEEDED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}
