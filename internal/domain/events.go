package domain

import "time"

// RepriceTrigger names the mutation that may force a cart reprice.
type RepriceTrigger string

const (
	TriggerQuantityChanged         RepriceTrigger = "CartQuantityChanged"
	TriggerVariantChanged          RepriceTrigger = "CartVariantChanged"
	TriggerCustomerChanged         RepriceTrigger = "CartCustomerChanged"
	TriggerAddressChanged          RepriceTrigger = "CartAddressChanged"
	TriggerCurrencyChanged         RepriceTrigger = "CartCurrencyChanged"
	TriggerPromotionActivated      RepriceTrigger = "PromotionActivated"
	TriggerPromotionExpired        RepriceTrigger = "PromotionExpired"
	TriggerStockChanged            RepriceTrigger = "StockChanged"
	TriggerContractValidityChanged RepriceTrigger = "ContractValidityChanged"
	TriggerManual                  RepriceTrigger = "Manual"
	TriggerCheckout                RepriceTrigger = "Checkout"

	// Catalog-side input changes. They never name a cart.
	TriggerPriceChanged         RepriceTrigger = "PriceChanged"
	TriggerCurrencyRatesChanged RepriceTrigger = "CurrencyRatesChanged"
	TriggerAttributeChanged     RepriceTrigger = "AttributeChanged"
)

// CartEvent is a repricing-trigger event. CartID is empty for catalog-wide events
// such as promotion or stock changes.
type CartEvent struct {
	Trigger    RepriceTrigger    `json:"trigger"`
	CartID     string            `json:"cartId,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

type LifecycleEventType string

const (
	EventCheckoutStarted   LifecycleEventType = "CheckoutStarted"
	EventCheckoutCompleted LifecycleEventType = "CheckoutCompleted"
	EventCheckoutFailed    LifecycleEventType = "CheckoutFailed"
)

// LifecycleEvent is published for external notification and audit consumers.
type LifecycleEvent struct {
	ID         string             `json:"id"`
	Type       LifecycleEventType `json:"type"`
	Lock       CheckoutLock       `json:"lock"`
	OrderID    string             `json:"orderId,omitempty"`
	Error      string             `json:"error,omitempty"`
	Context    map[string]string  `json:"context,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}
