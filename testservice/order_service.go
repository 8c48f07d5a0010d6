// Package testservice provides a worked example Rpc Service exercising
// the scenarios described in SPEC_FULL.md §4.13: a successful order, an
// application-level error body, and (via the caller routing to an
// unregistered method/service) the dispatcher's not-found paths.
package testservice

import (
	"encoding/json"

	"github.com/a2535171138/rpcgo/errcode"
	"github.com/a2535171138/rpcgo/rpc"
)

// MakeOrderRequest is the request body for OrderService.MakeOrder.
type MakeOrderRequest struct {
	Price float64 `json:"price"`
	Goods string  `json:"goods"`
}

// MakeOrderResponse is the successful response body.
type MakeOrderResponse struct {
	OrderID string `json:"order_id"`
}

// MakeOrderAppError is the application-level error body returned (with
// transport err_code still 0) when price is below the minimum, per
// SPEC_FULL.md §4.13.
type MakeOrderAppError struct {
	RetCode int32  `json:"ret_code"`
	ResInfo string `json:"res_info"`
}

// MinOrderPrice is the minimum price accepted by MakeOrder; anything
// lower yields the "short balance" application error body.
const MinOrderPrice = 10.0

// OrderService implements rpc.Service with a single method, MakeOrder.
// Bodies are marshaled with encoding/json: a payload codec is out of
// core scope per spec.md §1, so this package owns its own minimal one.
type OrderService struct{}

// FullName returns the service's registry key.
func (OrderService) FullName() string { return "OrderService" }

// Methods returns this service's method table.
func (s OrderService) Methods() map[string]rpc.MethodHandler {
	return map[string]rpc.MethodHandler{
		"MakeOrder": s.makeOrder,
	}
}

func (OrderService) makeOrder(ctrl *rpc.Controller, reqPayload []byte) ([]byte, errcode.Code, string) {
	var req MakeOrderRequest
	if err := json.Unmarshal(reqPayload, &req); err != nil {
		return nil, errcode.ErrorFailedDeserialize, err.Error()
	}

	if req.Price < MinOrderPrice {
		body := MakeOrderAppError{RetCode: -1, ResInfo: "short balance"}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errcode.ErrorFailedSerialize, err.Error()
		}
		// Application-level error: transport err_code stays 0 (OK) since
		// the call itself succeeded; the failure is carried in the body.
		return payload, errcode.OK, ""
	}

	rsp := MakeOrderResponse{OrderID: "20240514"}
	payload, err := json.Marshal(rsp)
	if err != nil {
		return nil, errcode.ErrorFailedSerialize, err.Error()
	}
	return payload, errcode.OK, ""
}
