package dispatch

import "paybroker/internal/processor"

// Success is the bare acknowledgement.
type Success struct {
	Success bool `json:"success"`
}

type Failure struct {
	Failed  bool   `json:"failed"`
	Message string `json:"message"`
}

type Unhandled struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type RefundResult struct {
	Success        bool             `json:"success"`
	RefundSnapshot processor.Refund `json:"refundSnapshot"`
}

type ChargeSnapshot struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	ChargeID  string `json:"chargeId"`
	ChargedAt int64  `json:"chargedAt"`
}

type ChargeResult struct {
	Success        bool           `json:"success"`
	ChargeID       string         `json:"chargeId"`
	Message        string         `json:"message"`
	ChargeSnapshot ChargeSnapshot `json:"chargeSnapshot"`
}

type PaymentMethod struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	SubTitle   string `json:"subTitle"`
	Expiry     string `json:"expiry"`
	CustomerID string `json:"customerId"`
}

type SubscriptionSnapshot struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	TrialEnd   int64  `json:"trialEnd"`
	CreatedAt  int64  `json:"createdAt"`
	NextCharge int64  `json:"nextCharge"`
}

type SubscriptionInfo struct {
	SubscriptionID       string               `json:"subscriptionId"`
	SubscriptionSnapshot SubscriptionSnapshot `json:"subscriptionSnapshot"`
}

type SubscriptionResult struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	Transaction  any              `json:"transaction"`
	Subscription SubscriptionInfo `json:"subscription"`
}

func fail(msg string) Failure { return Failure{Failed: true, Message: msg} }

// Outcome labels a dispatch result for metrics.
func Outcome(res any) string {
	switch r := res.(type) {
	case Failure:
		return "failed"
	case Unhandled:
		return "unhandled"
	case Success:
		if !r.Success {
			return "failed"
		}
	}
	return "success"
}
