package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"commerce-checkout/internal/domain"
	cartrepo "commerce-checkout/internal/repository/cart"
)

// ErrInvalidAction matches every input validation error returned by Create and Update.
var ErrInvalidAction = errors.New("invalid cart action")

type invalidAction string

func (e invalidAction) Error() string { return string(e) }

func (e invalidAction) Is(target error) bool { return target == ErrInvalidAction }

type Service struct {
	repo   cartRepo
	guard  mutationGuard
	events eventSink
	logger *slog.Logger
	now    func() time.Time
}

type cartRepo interface {
	Create(ctx context.Context, in cartrepo.CreateCartInput) (*domain.Cart, error)
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
	AddLine(ctx context.Context, cartID, productID, variantID string, quantity int) (*domain.CartLine, error)
	ChangeLineQuantity(ctx context.Context, cartID, lineID string, quantity int) error
	ChangeLineVariant(ctx context.Context, cartID, lineID, variantID string) error
	SetAddress(ctx context.Context, cartID string, addr domain.Address) error
	SetCurrency(ctx context.Context, cartID, currency string) error
	SetCustomer(ctx context.Context, cartID string, customerID, companyID *string) error
	ApplyCoupon(ctx context.Context, cartID, code string) error
}

// mutationGuard rejects mutations of carts held by a live checkout.
type mutationGuard interface {
	EnsureCartMutable(ctx context.Context, cartID string) error
}

type eventSink interface {
	Dispatch(ctx context.Context, evt domain.CartEvent) error
}

// New wires the cart service. guard and events may be nil.
func New(repo cartrepo.Repository, guard mutationGuard, events eventSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, guard: guard, events: events, logger: logger, now: time.Now}
}

type CreateInput struct {
	CustomerID *string `json:"customerId,omitempty"`
	CompanyID  *string `json:"companyId,omitempty"`
	Currency   string  `json:"currency"`
	Channel    string  `json:"channel,omitempty"`
}

type UpdateInput struct {
	Actions []UpdateAction `json:"actions"`
}

type UpdateAction struct {
	Action     string          `json:"action"`
	ProductID  string          `json:"productId,omitempty"`
	VariantID  string          `json:"variantId,omitempty"`
	LineItemID string          `json:"lineItemId,omitempty"`
	Quantity   int             `json:"quantity,omitempty"`
	Address    *domain.Address `json:"address,omitempty"`
	Currency   string          `json:"currency,omitempty"`
	CustomerID *string         `json:"customerId,omitempty"`
	CompanyID  *string         `json:"companyId,omitempty"`
	Code       string          `json:"code,omitempty"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Cart, error) {
	if strings.TrimSpace(in.Currency) == "" {
		return nil, invalidAction("currency required")
	}
	return s.repo.Create(ctx, cartrepo.CreateCartInput{
		CustomerID: in.CustomerID,
		CompanyID:  in.CompanyID,
		Currency:   strings.ToUpper(strings.TrimSpace(in.Currency)),
		Channel:    in.Channel,
	})
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Cart, error) {
	return s.repo.GetByID(ctx, id)
}

// ChangeQuantity sets the quantity of one line; zero removes it.
func (s *Service) ChangeQuantity(ctx context.Context, cartID, lineID string, quantity int) (*domain.Cart, error) {
	return s.Update(ctx, cartID, UpdateInput{Actions: []UpdateAction{{
		Action:     "changeLineItemQuantity",
		LineItemID: lineID,
		Quantity:   quantity,
	}}})
}

// Update applies actions in order. Each applied action emits the repricing event it implies.
func (s *Service) Update(ctx context.Context, cartID string, in UpdateInput) (*domain.Cart, error) {
	if len(in.Actions) == 0 {
		return nil, invalidAction("actions required")
	}
	cart, err := s.repo.GetByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.IsCompleted() {
		return nil, domain.ErrCartLocked
	}
	if s.guard != nil {
		if err := s.guard.EnsureCartMutable(ctx, cartID); err != nil {
			return nil, err
		}
	}

	for _, action := range in.Actions {
		trigger, evtCtx, err := s.apply(ctx, cartID, action)
		if err != nil {
			return nil, err
		}
		s.emit(ctx, cartID, trigger, evtCtx)
	}

	return s.repo.GetByID(ctx, cartID)
}

func (s *Service) apply(ctx context.Context, cartID string, action UpdateAction) (domain.RepriceTrigger, map[string]string, error) {
	switch strings.ToLower(strings.TrimSpace(action.Action)) {
	case "addlineitem":
		productID := strings.TrimSpace(action.ProductID)
		variantID := strings.TrimSpace(action.VariantID)
		if productID == "" || variantID == "" {
			return "", nil, invalidAction("productId and variantId required")
		}
		if action.Quantity <= 0 {
			return "", nil, invalidAction("quantity must be positive")
		}
		line, err := s.repo.AddLine(ctx, cartID, productID, variantID, action.Quantity)
		if err != nil {
			return "", nil, err
		}
		return domain.TriggerQuantityChanged, map[string]string{
			"line_id":    line.ID,
			"product_id": productID,
			"variant_id": variantID,
		}, nil
	case "changelineitemquantity":
		lineID := strings.TrimSpace(action.LineItemID)
		if lineID == "" {
			return "", nil, invalidAction("lineItemId required")
		}
		if action.Quantity < 0 {
			return "", nil, invalidAction("quantity must not be negative")
		}
		if err := s.repo.ChangeLineQuantity(ctx, cartID, lineID, action.Quantity); err != nil {
			return "", nil, err
		}
		return domain.TriggerQuantityChanged, map[string]string{"line_id": lineID}, nil
	case "changelineitemvariant":
		lineID := strings.TrimSpace(action.LineItemID)
		variantID := strings.TrimSpace(action.VariantID)
		if lineID == "" || variantID == "" {
			return "", nil, invalidAction("lineItemId and variantId required")
		}
		if err := s.repo.ChangeLineVariant(ctx, cartID, lineID, variantID); err != nil {
			return "", nil, err
		}
		return domain.TriggerVariantChanged, map[string]string{"line_id": lineID, "variant_id": variantID}, nil
	case "setshippingaddress":
		if action.Address == nil || strings.TrimSpace(action.Address.Country) == "" {
			return "", nil, invalidAction("address country required")
		}
		addr := *action.Address
		addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
		if err := s.repo.SetAddress(ctx, cartID, addr); err != nil {
			return "", nil, err
		}
		return domain.TriggerAddressChanged, map[string]string{"country": addr.Country}, nil
	case "setcurrency":
		currency := strings.ToUpper(strings.TrimSpace(action.Currency))
		if currency == "" {
			return "", nil, invalidAction("currency required")
		}
		if err := s.repo.SetCurrency(ctx, cartID, currency); err != nil {
			return "", nil, err
		}
		return domain.TriggerCurrencyChanged, map[string]string{"currency": currency}, nil
	case "setcustomer":
		if err := s.repo.SetCustomer(ctx, cartID, action.CustomerID, action.CompanyID); err != nil {
			return "", nil, err
		}
		return domain.TriggerCustomerChanged, nil, nil
	case "adddiscountcode":
		code := strings.TrimSpace(action.Code)
		if code == "" {
			return "", nil, invalidAction("code required")
		}
		if err := s.repo.ApplyCoupon(ctx, cartID, code); err != nil {
			return "", nil, err
		}
		return domain.TriggerManual, map[string]string{"coupon": code}, nil
	default:
		return "", nil, invalidAction("unsupported action")
	}
}

// emit never fails the mutation; a lost event leaves the cart to be repriced at checkout.
func (s *Service) emit(ctx context.Context, cartID string, trigger domain.RepriceTrigger, evtCtx map[string]string) {
	if s.events == nil {
		return
	}
	evt := domain.CartEvent{Trigger: trigger, CartID: cartID, Context: evtCtx, OccurredAt: s.now().UTC()}
	if err := s.events.Dispatch(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "cart service: dispatch event", "cart_id", cartID, "trigger", trigger, "error", err)
	}
}
