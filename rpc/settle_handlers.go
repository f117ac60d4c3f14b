package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"swapsettle/ledger"
	"swapsettle/observability"
	"swapsettle/settle"
	"swapsettle/storage"
)

// RouteParam is the wire form of a route description. Amounts travel as
// decimal strings; assets are "native" or a hex token address.
type RouteParam struct {
	InputAsset               string `json:"inputAsset"`
	OutputAsset              string `json:"outputAsset"`
	InputReceiver            string `json:"inputReceiver"`
	OutputReceiver           string `json:"outputReceiver"`
	Partner                  string `json:"partner,omitempty"`
	InputAmount              string `json:"inputAmount"`
	MarginAmount             string `json:"marginAmount,omitempty"`
	OutputAmount             string `json:"outputAmount"`
	EffectiveOutputAmount    string `json:"effectiveOutputAmount"`
	MinOutputAmount          string `json:"minOutputAmount"`
	RoutingFee               string `json:"routingFee"`
	PartnerSurplusShareBps   uint32 `json:"partnerSurplusShareBps,omitempty"`
	ProtocolSurplusShareBps  uint32 `json:"protocolSurplusShareBps,omitempty"`
	PartnerSlippageShareBps  uint32 `json:"partnerSlippageShareBps,omitempty"`
	ProtocolSlippageShareBps uint32 `json:"protocolSlippageShareBps,omitempty"`
	IsPermit2                bool   `json:"isPermit2,omitempty"`
	UniquePID                string `json:"uniquePid,omitempty"`
}

type InteractionParam struct {
	Target  string `json:"target"`
	Value   string `json:"value,omitempty"`
	Payload string `json:"payload,omitempty"`
}

type CallbackParam struct {
	Payload string `json:"payload,omitempty"`
	Value   string `json:"value,omitempty"`
}

type ExecuteParams struct {
	Originator    string             `json:"originator"`
	AttachedValue string             `json:"attachedValue,omitempty"`
	Executor      string             `json:"executor"`
	Route         RouteParam         `json:"route"`
	Interactions  []InteractionParam `json:"interactions,omitempty"`
	PreHook       *CallbackParam     `json:"preHook,omitempty"`
	PostHook      *CallbackParam     `json:"postHook,omitempty"`
}

// ExecuteResult is the wire form of a settlement result.
type ExecuteResult struct {
	SettlementID  string `json:"settlementId"`
	FinalOutput   string `json:"finalOutput"`
	RoutingFee    string `json:"routingFee"`
	Surplus       string `json:"surplus"`
	Slippage      string `json:"slippage"`
	PartnerShare  string `json:"partnerShare"`
	ProtocolShare string `json:"protocolShare"`
}

// RecordResult is the wire form of a persisted settlement record.
type RecordResult struct {
	SettlementID   string `json:"settlementId"`
	UniquePID      string `json:"uniquePid"`
	Originator     string `json:"originator"`
	OutputReceiver string `json:"outputReceiver"`
	InputAsset     string `json:"inputAsset"`
	InputAmount    string `json:"inputAmount"`
	OutputAsset    string `json:"outputAsset"`
	FinalOutput    string `json:"finalOutput"`
	PartnerFee     string `json:"partnerFee"`
	RoutingFee     string `json:"routingFee"`
	PartnerShare   string `json:"partnerShare"`
	ProtocolShare  string `json:"protocolShare"`
	Surplus        string `json:"surplus"`
	Slippage       string `json:"slippage"`
	SettledAt      int64  `json:"settledAt"`
}

func (s *Server) handleSettleExecute(w http.ResponseWriter, req *RPCRequest, caller common.Address) *RPCError {
	if len(req.Params) != 1 {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "settle_execute requires a single params object", nil)
	}
	var params ExecuteParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "invalid settle_execute params", err.Error())
	}

	originator, err := parseAddr(params.Originator, "originator")
	if err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
	}
	attached := big.NewInt(0)
	if strings.TrimSpace(params.AttachedValue) != "" {
		attached, err = parseAmount(params.AttachedValue, "attachedValue")
		if err != nil {
			return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
		}
	}
	exec, ok := s.engine.Executor(params.Executor)
	if !ok {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams,
			fmt.Sprintf("unknown executor %q", params.Executor), s.engine.ExecutorNames())
	}
	desc, err := parseRoute(params.Route)
	if err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
	}
	interactions, err := parseInteractions(params.Interactions)
	if err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
	}
	pre, err := parseCallback(params.PreHook, "preHook")
	if err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
	}
	post, err := parseCallback(params.PostHook, "postHook")
	if err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
	}
	// Tokens act for the address in their caller claim; only the owner may
	// settle on behalf of another originator.
	if caller != originator && caller != s.policy.Owner() {
		return s.fail(w, req, http.StatusUnauthorized, codeUnauthorized, "token caller may not settle for this originator", nil)
	}

	started := time.Now()
	result, err := s.engine.Settle(originator, attached, pre, exec, desc, interactions, post)
	if err != nil {
		code := settleErrorCode(err)
		observability.Settlements().ObserveAborted(time.Since(started), abortReason(code))
		return s.fail(w, req, http.StatusOK, code, err.Error(), nil)
	}
	observability.Settlements().ObserveSettled(time.Since(started), result.RoutingFee, result.Surplus)

	writeResult(w, req.ID, &ExecuteResult{
		SettlementID:  hexutil.Encode(result.SettlementID[:]),
		FinalOutput:   result.FinalOutput.String(),
		RoutingFee:    result.RoutingFee.String(),
		Surplus:       result.Surplus.String(),
		Slippage:      result.Slippage.String(),
		PartnerShare:  result.PartnerShare.String(),
		ProtocolShare: result.ProtocolShare.String(),
	})
	return nil
}

func (s *Server) handleSettleGet(w http.ResponseWriter, req *RPCRequest) *RPCError {
	if len(req.Params) != 1 {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "settle_get requires a single params object", nil)
	}
	var params struct {
		SettlementID string `json:"settlementId"`
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "invalid settle_get params", err.Error())
	}
	id, err := parseID(params.SettlementID)
	if err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
	}
	record, err := s.records.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return s.fail(w, req, http.StatusNotFound, codeNotFound, "settlement not found", params.SettlementID)
	}
	if err != nil {
		return s.fail(w, req, http.StatusInternalServerError, codeServerError, "failed to load settlement", err.Error())
	}
	writeResult(w, req.ID, recordToWire(record))
	return nil
}

func (s *Server) handleSettleList(w http.ResponseWriter, req *RPCRequest) *RPCError {
	limit := 0
	if len(req.Params) == 1 {
		var params struct {
			Limit int `json:"limit"`
		}
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "invalid settle_list params", err.Error())
		}
		limit = params.Limit
	} else if len(req.Params) > 1 {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "settle_list takes at most one params object", nil)
	}
	records, err := s.records.List(limit)
	if err != nil {
		return s.fail(w, req, http.StatusInternalServerError, codeServerError, "failed to list settlements", err.Error())
	}
	wire := make([]*RecordResult, 0, len(records))
	for _, record := range records {
		wire = append(wire, recordToWire(record))
	}
	writeResult(w, req.ID, wire)
	return nil
}

func (s *Server) handleCollectFees(w http.ResponseWriter, req *RPCRequest, caller common.Address) *RPCError {
	if len(req.Params) != 1 {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "settle_collectFees requires a single params object", nil)
	}
	var params struct {
		Assets   []string `json:"assets"`
		Receiver string   `json:"receiver"`
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "invalid settle_collectFees params", err.Error())
	}
	receiver, err := parseAddr(params.Receiver, "receiver")
	if err != nil {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
	}
	assets := make([]ledger.Asset, 0, len(params.Assets))
	for _, raw := range params.Assets {
		asset, err := parseAsset(raw)
		if err != nil {
			return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
		}
		assets = append(assets, asset)
	}
	swept, err := s.engine.CollectFees(caller, assets, receiver)
	if err != nil {
		code := settleErrorCode(err)
		return s.fail(w, req, http.StatusOK, code, err.Error(), nil)
	}
	amounts := make([]string, 0, len(swept))
	for _, amount := range swept {
		amounts = append(amounts, amount.String())
	}
	writeResult(w, req.ID, map[string]interface{}{"swept": amounts})
	return nil
}

// fail writes the error response and returns the RPCError for metrics.
func (s *Server) fail(w http.ResponseWriter, req *RPCRequest, status, code int, message string, data interface{}) *RPCError {
	rpcErr := &RPCError{Code: code, Message: message, Data: data}
	writeError(w, status, req.ID, code, message, data)
	return rpcErr
}

var policyErrors = []error{
	settle.ErrFeeAboveMax,
	settle.ErrFeeBelowMin,
	settle.ErrPartnerSurplusShareTooHigh,
	settle.ErrProtocolSurplusShareTooLow,
	settle.ErrPartnerSlippageShareTooHigh,
	settle.ErrProtocolSlippageShareTooLow,
	settle.ErrNullInputReceiver,
	settle.ErrNullOutputReceiver,
	settle.ErrMinAboveQuoted,
	settle.ErrMinOutputZero,
	settle.ErrEffectiveAboveQuoted,
	settle.ErrAmountInvalid,
	settle.ErrShareBpsRange,
	settle.ErrSlippageBreach,
}

func abortReason(code int) string {
	switch code {
	case codePolicyDenied:
		return "policy"
	case codeUnauthorized:
		return "unauthorized"
	default:
		return "execution"
	}
}

func settleErrorCode(err error) int {
	if errors.Is(err, settle.ErrNotAuthorized) {
		return codeUnauthorized
	}
	for _, sentinel := range policyErrors {
		if errors.Is(err, sentinel) {
			return codePolicyDenied
		}
	}
	return codeSettleFailed
}

func recordToWire(record *settle.Record) *RecordResult {
	return &RecordResult{
		SettlementID:   hexutil.Encode(record.ID[:]),
		UniquePID:      hexutil.Encode(record.UniquePID[:]),
		Originator:     record.Originator.Hex(),
		OutputReceiver: record.OutputReceiver.Hex(),
		InputAsset:     record.InputAsset.String(),
		InputAmount:    record.InputAmount.String(),
		OutputAsset:    record.OutputAsset.String(),
		FinalOutput:    record.FinalOutput.String(),
		PartnerFee:     record.PartnerFee.String(),
		RoutingFee:     record.RoutingFee.String(),
		PartnerShare:   record.PartnerShare.String(),
		ProtocolShare:  record.ProtocolShare.String(),
		Surplus:        record.Surplus.String(),
		Slippage:       record.Slippage.String(),
		SettledAt:      record.SettledAt,
	}
}

func parseRoute(param RouteParam) (settle.RouteDescription, error) {
	desc := settle.RouteDescription{
		PartnerSurplusShareBps:   param.PartnerSurplusShareBps,
		ProtocolSurplusShareBps:  param.ProtocolSurplusShareBps,
		PartnerSlippageShareBps:  param.PartnerSlippageShareBps,
		ProtocolSlippageShareBps: param.ProtocolSlippageShareBps,
		IsPermit2:                param.IsPermit2,
	}
	var err error
	if desc.InputAsset, err = parseAsset(param.InputAsset); err != nil {
		return desc, fmt.Errorf("route.inputAsset: %w", err)
	}
	if desc.OutputAsset, err = parseAsset(param.OutputAsset); err != nil {
		return desc, fmt.Errorf("route.outputAsset: %w", err)
	}
	if desc.InputReceiver, err = parseAddr(param.InputReceiver, "route.inputReceiver"); err != nil {
		return desc, err
	}
	if desc.OutputReceiver, err = parseAddr(param.OutputReceiver, "route.outputReceiver"); err != nil {
		return desc, err
	}
	if strings.TrimSpace(param.Partner) != "" {
		if desc.Partner, err = parseAddr(param.Partner, "route.partner"); err != nil {
			return desc, err
		}
	}
	if desc.InputAmount, err = parseAmount(param.InputAmount, "route.inputAmount"); err != nil {
		return desc, err
	}
	desc.MarginAmount = big.NewInt(0)
	if strings.TrimSpace(param.MarginAmount) != "" {
		if desc.MarginAmount, err = parseAmount(param.MarginAmount, "route.marginAmount"); err != nil {
			return desc, err
		}
	}
	if desc.OutputAmount, err = parseAmount(param.OutputAmount, "route.outputAmount"); err != nil {
		return desc, err
	}
	if desc.EffectiveOutputAmount, err = parseAmount(param.EffectiveOutputAmount, "route.effectiveOutputAmount"); err != nil {
		return desc, err
	}
	if desc.MinOutputAmount, err = parseAmount(param.MinOutputAmount, "route.minOutputAmount"); err != nil {
		return desc, err
	}
	if desc.RoutingFee, err = parseAmount(param.RoutingFee, "route.routingFee"); err != nil {
		return desc, err
	}
	if strings.TrimSpace(param.UniquePID) != "" {
		if desc.UniquePID, err = parseID(param.UniquePID); err != nil {
			return desc, fmt.Errorf("route.uniquePid: %w", err)
		}
	}
	return desc, nil
}

func parseInteractions(params []InteractionParam) ([]settle.Interaction, error) {
	interactions := make([]settle.Interaction, 0, len(params))
	for i, param := range params {
		target, err := parseAddr(param.Target, fmt.Sprintf("interactions[%d].target", i))
		if err != nil {
			return nil, err
		}
		value := big.NewInt(0)
		if strings.TrimSpace(param.Value) != "" {
			if value, err = parseAmount(param.Value, fmt.Sprintf("interactions[%d].value", i)); err != nil {
				return nil, err
			}
		}
		payload, err := parsePayload(param.Payload)
		if err != nil {
			return nil, fmt.Errorf("interactions[%d].payload: %w", i, err)
		}
		interactions = append(interactions, settle.Interaction{Target: target, Value: value, Payload: payload})
	}
	return interactions, nil
}

func parseCallback(param *CallbackParam, field string) (settle.CallbackData, error) {
	if param == nil {
		return settle.CallbackData{Value: big.NewInt(0)}, nil
	}
	payload, err := parsePayload(param.Payload)
	if err != nil {
		return settle.CallbackData{}, fmt.Errorf("%s.payload: %w", field, err)
	}
	value := big.NewInt(0)
	if strings.TrimSpace(param.Value) != "" {
		if value, err = parseAmount(param.Value, field+".value"); err != nil {
			return settle.CallbackData{}, err
		}
	}
	return settle.CallbackData{Payload: payload, Value: value}, nil
}

func parseAddr(value, field string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAsset(value string) (ledger.Asset, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, "native") {
		return ledger.NativeAsset, nil
	}
	if !common.IsHexAddress(trimmed) {
		return ledger.Asset{}, fmt.Errorf("asset must be \"native\" or a hex address")
	}
	return ledger.Asset(common.HexToAddress(trimmed)), nil
}

func parseAmount(value, field string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative decimal string", field)
	}
	return amount, nil
}

func parsePayload(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	return hexutil.Decode(trimmed)
}

func parseID(value string) ([32]byte, error) {
	var id [32]byte
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil {
		return id, fmt.Errorf("identifier must be 0x-prefixed hex: %w", err)
	}
	if len(raw) != 32 {
		return id, fmt.Errorf("identifier must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
