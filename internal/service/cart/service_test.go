package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"commerce-checkout/internal/domain"
	cartrepo "commerce-checkout/internal/repository/cart"
)

type stubRepo struct {
	createCart       *domain.Cart
	createErr        error
	getByIDResults   []*domain.Cart
	getByIDErr       error
	getByIDCalls     int
	addLineErr       error
	changeErr        error
	lastAddCartID    string
	lastAddVariant   string
	lastAddQty       int
	lastChangeCartID string
	lastChangeLineID string
	lastChangeQty    int
	lastVariant      string
	lastAddress      domain.Address
	lastCurrency     string
	lastCoupon       string
	lastCreate       cartrepo.CreateCartInput
}

func (s *stubRepo) Create(_ context.Context, in cartrepo.CreateCartInput) (*domain.Cart, error) {
	s.lastCreate = in
	return s.createCart, s.createErr
}

func (s *stubRepo) GetByID(_ context.Context, _ string) (*domain.Cart, error) {
	if s.getByIDErr != nil {
		return nil, s.getByIDErr
	}
	var res *domain.Cart
	if len(s.getByIDResults) > 0 {
		idx := s.getByIDCalls
		if idx >= len(s.getByIDResults) {
			idx = len(s.getByIDResults) - 1
		}
		res = s.getByIDResults[idx]
	}
	s.getByIDCalls++
	return res, nil
}

func (s *stubRepo) AddLine(_ context.Context, cartID, productID, variantID string, quantity int) (*domain.CartLine, error) {
	s.lastAddCartID = cartID
	s.lastAddVariant = variantID
	s.lastAddQty = quantity
	if s.addLineErr != nil {
		return nil, s.addLineErr
	}
	return &domain.CartLine{ID: "line-new", CartID: cartID, ProductID: productID, VariantID: variantID, Quantity: quantity}, nil
}

func (s *stubRepo) ChangeLineQuantity(_ context.Context, cartID, lineID string, quantity int) error {
	s.lastChangeCartID = cartID
	s.lastChangeLineID = lineID
	s.lastChangeQty = quantity
	return s.changeErr
}

func (s *stubRepo) ChangeLineVariant(_ context.Context, _, _, variantID string) error {
	s.lastVariant = variantID
	return nil
}

func (s *stubRepo) SetAddress(_ context.Context, _ string, addr domain.Address) error {
	s.lastAddress = addr
	return nil
}

func (s *stubRepo) SetCurrency(_ context.Context, _, currency string) error {
	s.lastCurrency = currency
	return nil
}

func (s *stubRepo) SetCustomer(_ context.Context, _ string, _, _ *string) error {
	return nil
}

func (s *stubRepo) ApplyCoupon(_ context.Context, _, code string) error {
	s.lastCoupon = code
	return nil
}

func (s *stubRepo) MarkRequiresReprice(_ context.Context, _ string) error {
	return nil
}

func (s *stubRepo) SaveSnapshot(_ context.Context, _ string, _ domain.PricingResult, _, _ time.Time) (bool, error) {
	return true, nil
}

func (s *stubRepo) MarkCompleted(_ context.Context, _ string) error {
	return nil
}

type stubGuard struct {
	err   error
	calls int
}

func (g *stubGuard) EnsureCartMutable(_ context.Context, _ string) error {
	g.calls++
	return g.err
}

type stubEvents struct {
	events []domain.CartEvent
	err    error
}

func (e *stubEvents) Dispatch(_ context.Context, evt domain.CartEvent) error {
	e.events = append(e.events, evt)
	return e.err
}

func strPtr(v string) *string {
	return &v
}

func activeCart() *domain.Cart {
	return &domain.Cart{ID: "cart", Status: domain.CartStatusActive, Currency: "USD"}
}

func TestServiceCreateValidation(t *testing.T) {
	svc := &Service{repo: &stubRepo{}}
	_, err := svc.Create(context.Background(), CreateInput{Currency: "   "})
	if err == nil || err.Error() != "currency required" {
		t.Fatalf("expected currency validation error, got %v", err)
	}
}

func TestServiceCreateHappyPath(t *testing.T) {
	expected := &domain.Cart{ID: "c1", Currency: "USD"}
	repo := &stubRepo{createCart: expected}
	svc := &Service{repo: repo}
	got, err := svc.Create(context.Background(), CreateInput{Currency: " usd ", CompanyID: strPtr("acme")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != expected {
		t.Fatalf("unexpected cart: %+v", got)
	}
	if repo.lastCreate.Currency != "USD" || repo.lastCreate.CompanyID == nil || *repo.lastCreate.CompanyID != "acme" {
		t.Fatalf("unexpected create input: %+v", repo.lastCreate)
	}
}

func TestServiceCreateRepoError(t *testing.T) {
	svc := &Service{repo: &stubRepo{createErr: errors.New("boom")}}
	_, err := svc.Create(context.Background(), CreateInput{Currency: "USD"})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected repo error, got %v", err)
	}
}

func TestServiceUpdateRequiresActions(t *testing.T) {
	svc := &Service{repo: &stubRepo{}}
	_, err := svc.Update(context.Background(), "cart", UpdateInput{})
	if err == nil || err.Error() != "actions required" {
		t.Fatalf("expected actions error, got %v", err)
	}
}

func TestServiceUpdateRejectedWhileLocked(t *testing.T) {
	repo := &stubRepo{getByIDResults: []*domain.Cart{activeCart()}}
	guard := &stubGuard{err: domain.ErrCartLocked}
	events := &stubEvents{}
	svc := New(repo, guard, events, nil)

	_, err := svc.ChangeQuantity(context.Background(), "cart", "line", 3)
	if !errors.Is(err, domain.ErrCartLocked) {
		t.Fatalf("expected cart locked, got %v", err)
	}
	if repo.lastChangeLineID != "" {
		t.Fatalf("repository must not be mutated while locked")
	}
	if len(events.events) != 0 {
		t.Fatalf("expected no events, got %d", len(events.events))
	}
}

func TestServiceUpdateCompletedCart(t *testing.T) {
	done := activeCart()
	done.Status = domain.CartStatusCompleted
	svc := &Service{repo: &stubRepo{getByIDResults: []*domain.Cart{done}}}
	_, err := svc.ChangeQuantity(context.Background(), "cart", "line", 1)
	if !errors.Is(err, domain.ErrCartLocked) {
		t.Fatalf("expected cart locked, got %v", err)
	}
}

func TestServiceUpdateAddLineItemValidation(t *testing.T) {
	repo := &stubRepo{getByIDResults: []*domain.Cart{activeCart()}}
	svc := &Service{repo: repo}

	_, err := svc.Update(context.Background(), "cart", UpdateInput{
		Actions: []UpdateAction{{Action: "addLineItem", ProductID: "p1", Quantity: 1}},
	})
	if err == nil || err.Error() != "productId and variantId required" {
		t.Fatalf("expected id error, got %v", err)
	}

	_, err = svc.Update(context.Background(), "cart", UpdateInput{
		Actions: []UpdateAction{{Action: "addLineItem", ProductID: "p1", VariantID: "v1", Quantity: 0}},
	})
	if err == nil || err.Error() != "quantity must be positive" {
		t.Fatalf("expected quantity error, got %v", err)
	}
}

func TestServiceUpdateAddLineItemRepoError(t *testing.T) {
	repo := &stubRepo{
		getByIDResults: []*domain.Cart{activeCart()},
		addLineErr:     errors.New("add failed"),
	}
	events := &stubEvents{}
	svc := &Service{repo: repo, events: events}
	_, err := svc.Update(context.Background(), "cart", UpdateInput{
		Actions: []UpdateAction{{Action: "addLineItem", ProductID: "p1", VariantID: "v1", Quantity: 2}},
	})
	if err == nil || err.Error() != "add failed" {
		t.Fatalf("expected repo error, got %v", err)
	}
	if len(events.events) != 0 {
		t.Fatalf("failed action must not emit events")
	}
}

func TestServiceUpdateAddLineItemSuccess(t *testing.T) {
	initial := activeCart()
	updated := activeCart()
	repo := &stubRepo{getByIDResults: []*domain.Cart{initial, updated}}
	events := &stubEvents{}
	svc := New(repo, nil, events, nil)
	got, err := svc.Update(context.Background(), "cart", UpdateInput{
		Actions: []UpdateAction{{Action: "addLineItem", ProductID: "p1", VariantID: "v1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != updated {
		t.Fatalf("unexpected cart: %+v", got)
	}
	if repo.lastAddCartID != "cart" || repo.lastAddQty != 2 || repo.lastAddVariant != "v1" {
		t.Fatalf("add line not called as expected")
	}
	if len(events.events) != 1 {
		t.Fatalf("expected one event, got %d", len(events.events))
	}
	evt := events.events[0]
	if evt.Trigger != domain.TriggerQuantityChanged || evt.CartID != "cart" || evt.Context["product_id"] != "p1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestServiceUpdateChangeLineItemValidation(t *testing.T) {
	repo := &stubRepo{getByIDResults: []*domain.Cart{activeCart()}}
	svc := &Service{repo: repo}
	_, err := svc.ChangeQuantity(context.Background(), "cart", "", 1)
	if err == nil || err.Error() != "lineItemId required" {
		t.Fatalf("expected lineItemId error, got %v", err)
	}

	_, err = svc.ChangeQuantity(context.Background(), "cart", "line", -1)
	if err == nil || err.Error() != "quantity must not be negative" {
		t.Fatalf("expected quantity error, got %v", err)
	}
}

func TestServiceUpdateChangeLineItemRepoError(t *testing.T) {
	repo := &stubRepo{
		getByIDResults: []*domain.Cart{activeCart()},
		changeErr:      domain.ErrNotFound,
	}
	svc := &Service{repo: repo}
	_, err := svc.ChangeQuantity(context.Background(), "cart", "line", 2)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceUpdateChangeLineItemRemoves(t *testing.T) {
	repo := &stubRepo{getByIDResults: []*domain.Cart{activeCart()}}
	guard := &stubGuard{}
	svc := New(repo, guard, nil, nil)
	if _, err := svc.ChangeQuantity(context.Background(), "cart", "line", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastChangeCartID != "cart" || repo.lastChangeLineID != "line" || repo.lastChangeQty != 0 {
		t.Fatalf("change line not called as expected")
	}
	if guard.calls != 1 {
		t.Fatalf("expected guard to be consulted once, got %d", guard.calls)
	}
}

func TestServiceUpdateEmitsTriggerPerAction(t *testing.T) {
	repo := &stubRepo{getByIDResults: []*domain.Cart{activeCart()}}
	events := &stubEvents{}
	svc := New(repo, nil, events, nil)

	_, err := svc.Update(context.Background(), "cart", UpdateInput{Actions: []UpdateAction{
		{Action: "changeLineItemVariant", LineItemID: "line", VariantID: "v2"},
		{Action: "setShippingAddress", Address: &domain.Address{Country: "de"}},
		{Action: "setCurrency", Currency: "eur"},
		{Action: "setCustomer", CustomerID: strPtr("cust")},
		{Action: "addDiscountCode", Code: "SAVE10"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []domain.RepriceTrigger{
		domain.TriggerVariantChanged,
		domain.TriggerAddressChanged,
		domain.TriggerCurrencyChanged,
		domain.TriggerCustomerChanged,
		domain.TriggerManual,
	}
	if len(events.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events.events))
	}
	for i, trigger := range want {
		if events.events[i].Trigger != trigger {
			t.Fatalf("event %d: expected %s, got %s", i, trigger, events.events[i].Trigger)
		}
	}
	if repo.lastVariant != "v2" || repo.lastAddress.Country != "DE" || repo.lastCurrency != "EUR" || repo.lastCoupon != "SAVE10" {
		t.Fatalf("unexpected repo state: %+v", repo)
	}
}

func TestServiceUpdateDispatchFailureIsNotFatal(t *testing.T) {
	repo := &stubRepo{getByIDResults: []*domain.Cart{activeCart()}}
	events := &stubEvents{err: errors.New("queue closed")}
	svc := New(repo, nil, events, nil)
	if _, err := svc.ChangeQuantity(context.Background(), "cart", "line", 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastChangeQty != 4 {
		t.Fatalf("expected quantity 4, got %d", repo.lastChangeQty)
	}
}

func TestServiceUpdateUnsupportedAction(t *testing.T) {
	svc := &Service{repo: &stubRepo{getByIDResults: []*domain.Cart{activeCart()}}}
	_, err := svc.Update(context.Background(), "cart", UpdateInput{Actions: []UpdateAction{{Action: "recalculate"}}})
	if err == nil || err.Error() != "unsupported action" {
		t.Fatalf("expected unsupported action, got %v", err)
	}
}

func TestServiceValidationErrorsMatchSentinel(t *testing.T) {
	svc := &Service{repo: &stubRepo{getByIDResults: []*domain.Cart{activeCart()}}}
	_, err := svc.ChangeQuantity(context.Background(), "cart", "", 1)
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	repoErr := errors.New("db down")
	svc = &Service{repo: &stubRepo{getByIDErr: repoErr}}
	_, err = svc.ChangeQuantity(context.Background(), "cart", "line", 1)
	if errors.Is(err, ErrInvalidAction) {
		t.Fatalf("repository errors must not match ErrInvalidAction")
	}
}
