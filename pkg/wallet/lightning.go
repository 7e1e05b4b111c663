package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/rpc"
)

// LightningService creates and pays bolt11 invoices through a gateway.
type LightningService struct{ w *Wallet }

// InvoiceOptions tune CreateInvoice. A nil Gateway picks the first gateway
// the federation announces.
type InvoiceOptions struct {
	Expiry    time.Duration
	Gateway   *core.GatewayInfo
	ExtraMeta json.RawMessage
}

// PayOptions tune PayInvoice.
type PayOptions struct {
	Gateway   *core.GatewayInfo
	ExtraMeta json.RawMessage
}

// PaymentResult is what a successful payment reveals.
type PaymentResult struct {
	Fee      core.MSats
	Preimage string
}

// ErrPaymentFailed is returned when a payment reaches a failing terminal
// state.
var ErrPaymentFailed = errors.New("lightning payment failed")

func (s *LightningService) gateway(ctx context.Context, given *core.GatewayInfo) (*core.GatewayInfo, error) {
	if given != nil {
		return given, nil
	}
	if err := s.UpdateGatewayCache(ctx); err != nil {
		return nil, err
	}
	gws, err := s.ListGateways(ctx)
	if err != nil {
		return nil, err
	}
	if len(gws) == 0 {
		return nil, nil
	}
	return &gws[0].Info, nil
}

// CreateInvoice asks a gateway for an invoice paying amount into the wallet.
func (s *LightningService) CreateInvoice(ctx context.Context, amount core.MSats,
	description string, opts InvoiceOptions) (core.CreateBolt11Response, error) {

	if err := s.w.guard(false); err != nil {
		return core.CreateBolt11Response{}, err
	}
	gw, err := s.gateway(ctx, opts.Gateway)
	if err != nil {
		return core.CreateBolt11Response{}, err
	}
	var expiry *uint64
	if opts.Expiry > 0 {
		secs := uint64(opts.Expiry / time.Second)
		expiry = &secs
	}
	return call[core.CreateBolt11Response](ctx, s.w, "ln", "create_bolt11_invoice", map[string]any{
		"amount":      amount,
		"description": description,
		"expiry_time": expiry,
		"extra_meta":  extraMeta(opts.ExtraMeta),
		"gateway":     gw,
	})
}

// PayInvoice starts paying invoice. The payment is tracked with
// SubscribeLnPay on the returned contract id.
func (s *LightningService) PayInvoice(ctx context.Context, invoice string, opts PayOptions) (core.OutgoingLightningPayment, error) {
	if err := s.w.guard(false); err != nil {
		return core.OutgoingLightningPayment{}, err
	}
	gw, err := s.gateway(ctx, opts.Gateway)
	if err != nil {
		return core.OutgoingLightningPayment{}, err
	}
	return call[core.OutgoingLightningPayment](ctx, s.w, "ln", "pay_bolt11_invoice", map[string]any{
		"maybe_gateway": gw,
		"invoice":       invoice,
		"extra_meta":    extraMeta(opts.ExtraMeta),
	})
}

// PayInvoiceSync pays invoice and waits for the outcome.
func (s *LightningService) PayInvoiceSync(ctx context.Context, invoice string, opts PayOptions) (PaymentResult, error) {
	payment, err := s.PayInvoice(ctx, invoice, opts)
	if err != nil {
		return PaymentResult{}, err
	}
	preimage, err := s.WaitForPay(ctx, payment.ContractID)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{Fee: payment.Fee, Preimage: preimage}, nil
}

// SubscribeLnPay follows an outgoing payment.
func (s *LightningService) SubscribeLnPay(operationID string, h Handler[OperationState]) (*rpc.Subscription, error) {
	return subscribe(s.w, false, "ln", "subscribe_ln_pay", operationPayload(operationID), nil, h)
}

// SubscribeInternalPay follows a payment settled inside the federation.
func (s *LightningService) SubscribeInternalPay(operationID string, h Handler[OperationState]) (*rpc.Subscription, error) {
	return subscribe(s.w, false, "ln", "subscribe_internal_pay", operationPayload(operationID), nil, h)
}

// SubscribeLnReceive follows an incoming payment.
func (s *LightningService) SubscribeLnReceive(operationID string, h Handler[OperationState]) (*rpc.Subscription, error) {
	return subscribe(s.w, false, "ln", "subscribe_ln_receive", operationPayload(operationID), nil, h)
}

// SubscribeLnClaim follows the claim of an incoming payment.
func (s *LightningService) SubscribeLnClaim(operationID string, h Handler[OperationState]) (*rpc.Subscription, error) {
	return subscribe(s.w, false, "ln", "subscribe_ln_claim", operationPayload(operationID), nil, h)
}

// WaitForPay blocks until the payment succeeds and returns its preimage.
func (s *LightningService) WaitForPay(ctx context.Context, operationID string) (string, error) {
	return await(ctx, func(h Handler[OperationState]) (*rpc.Subscription, error) {
		return s.SubscribeLnPay(operationID, h)
	}, func(st OperationState) (string, bool, error) {
		switch tag := st.Tag(); tag {
		case "success":
			var success struct {
				Preimage string `json:"preimage"`
			}
			st.Field(tag, &success)
			return success.Preimage, true, nil
		case "canceled", "refunded", "unexpected_error":
			var detail struct {
				ErrorMessage string `json:"error_message"`
			}
			if st.Field(tag, &detail) && detail.ErrorMessage != "" {
				return "", true, fmt.Errorf("%w: %s: %s", ErrPaymentFailed,
					tag, detail.ErrorMessage)
			}
			return "", true, fmt.Errorf("%w: %s", ErrPaymentFailed, tag)
		}
		return "", false, nil
	})
}

// WaitForReceive blocks until the incoming payment is claimed.
func (s *LightningService) WaitForReceive(ctx context.Context, operationID string) error {
	_, err := await(ctx, func(h Handler[OperationState]) (*rpc.Subscription, error) {
		return s.SubscribeLnReceive(operationID, h)
	}, func(st OperationState) (struct{}, bool, error) {
		switch tag := st.Tag(); tag {
		case "claimed":
			return struct{}{}, true, nil
		case "canceled":
			return struct{}{}, true, fmt.Errorf("receive %s", tag)
		}
		return struct{}{}, false, nil
	})
	return err
}

// GetGateway returns the gateway with id, or the default one when id is
// empty. A missing gateway yields nil.
func (s *LightningService) GetGateway(ctx context.Context, id string, forceInternal bool) (*core.LightningGateway, error) {
	var gatewayID *string
	if id != "" {
		gatewayID = &id
	}
	return call[*core.LightningGateway](ctx, s.w, "ln", "get_gateway", map[string]any{
		"gateway_id":     gatewayID,
		"force_internal": forceInternal,
	})
}

// ListGateways returns the gateways the federation announces.
func (s *LightningService) ListGateways(ctx context.Context) ([]core.LightningGateway, error) {
	return call[[]core.LightningGateway](ctx, s.w, "ln", "list_gateways", nil)
}

// UpdateGatewayCache refreshes the engine's gateway list.
func (s *LightningService) UpdateGatewayCache(ctx context.Context) error {
	_, err := call[json.RawMessage](ctx, s.w, "ln", "update_gateway_cache", nil)
	return err
}

// await subscribes through open and feeds every state to step until step
// reports done, the stream ends or ctx is done.
func await[T any](ctx context.Context,
	open func(Handler[OperationState]) (*rpc.Subscription, error),
	step func(OperationState) (T, bool, error)) (T, error) {

	result := make(chan fn.Result[T], 1)
	var once sync.Once
	resolve := func(r fn.Result[T]) {
		once.Do(func() { result <- r })
	}

	sub, err := open(func(u Update[OperationState]) {
		switch {
		case u.Err != nil:
			resolve(fn.Err[T](u.Err))
		case u.Done:
			resolve(fn.Err[T](ErrStreamEnded))
		default:
			v, done, err := step(u.Value)
			switch {
			case err != nil:
				resolve(fn.Err[T](err))
			case done:
				resolve(fn.Ok(v))
			}
		}
	})
	if err != nil {
		var zero T
		return zero, err
	}
	defer sub.Cancel()

	select {
	case r := <-result:
		return r.Unpack()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
