package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// PolicyResult is the wire form of the active settlement policy.
type PolicyResult struct {
	MaxFeeBps                     uint32 `json:"maxFeeBps"`
	MinFeeBps                     uint32 `json:"minFeeBps"`
	PartnerSurplusShareLimitBps   uint32 `json:"partnerSurplusShareLimitBps"`
	ProtocolSurplusShareFloorBps  uint32 `json:"protocolSurplusShareFloorBps"`
	PartnerSlippageShareLimitBps  uint32 `json:"partnerSlippageShareLimitBps"`
	ProtocolSlippageShareFloorBps uint32 `json:"protocolSlippageShareFloorBps"`
	RawCallGasStipend             uint64 `json:"rawCallGasStipend"`
	Treasury                      string `json:"treasury"`
	FoldPartnerShare              bool   `json:"foldPartnerShare"`
	Owner                         string `json:"owner"`
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, req *RPCRequest) *RPCError {
	policy := s.policy.Current()
	writeResult(w, req.ID, &PolicyResult{
		MaxFeeBps:                     policy.MaxFeeBps,
		MinFeeBps:                     policy.MinFeeBps,
		PartnerSurplusShareLimitBps:   policy.PartnerSurplusShareLimitBps,
		ProtocolSurplusShareFloorBps:  policy.ProtocolSurplusShareFloorBps,
		PartnerSlippageShareLimitBps:  policy.PartnerSlippageShareLimitBps,
		ProtocolSlippageShareFloorBps: policy.ProtocolSlippageShareFloorBps,
		RawCallGasStipend:             policy.RawCallGasStipend,
		Treasury:                      policy.Treasury.Hex(),
		FoldPartnerShare:              policy.FoldPartnerShare,
		Owner:                         s.policy.Owner().Hex(),
	})
	return nil
}

func (s *Server) handlePolicyMutation(w http.ResponseWriter, req *RPCRequest, caller common.Address) *RPCError {
	if len(req.Params) != 1 {
		return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, req.Method+" requires a single params object", nil)
	}

	var err error
	switch req.Method {
	case "policy_setFeeBounds":
		var params struct {
			MinFeeBps uint32 `json:"minFeeBps"`
			MaxFeeBps uint32 `json:"maxFeeBps"`
		}
		if jsonErr := json.Unmarshal(req.Params[0], &params); jsonErr != nil {
			return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "invalid params", jsonErr.Error())
		}
		err = s.policy.SetFeeBounds(caller, params.MinFeeBps, params.MaxFeeBps)
	case "policy_setShareLimits":
		var params struct {
			PartnerSurplusShareLimitBps   uint32 `json:"partnerSurplusShareLimitBps"`
			ProtocolSurplusShareFloorBps  uint32 `json:"protocolSurplusShareFloorBps"`
			PartnerSlippageShareLimitBps  uint32 `json:"partnerSlippageShareLimitBps"`
			ProtocolSlippageShareFloorBps uint32 `json:"protocolSlippageShareFloorBps"`
		}
		if jsonErr := json.Unmarshal(req.Params[0], &params); jsonErr != nil {
			return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "invalid params", jsonErr.Error())
		}
		err = s.policy.SetShareLimits(caller,
			params.PartnerSurplusShareLimitBps,
			params.ProtocolSurplusShareFloorBps,
			params.PartnerSlippageShareLimitBps,
			params.ProtocolSlippageShareFloorBps,
		)
	case "policy_setGasStipend":
		var params struct {
			RawCallGasStipend uint64 `json:"rawCallGasStipend"`
		}
		if jsonErr := json.Unmarshal(req.Params[0], &params); jsonErr != nil {
			return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "invalid params", jsonErr.Error())
		}
		err = s.policy.SetGasStipend(caller, params.RawCallGasStipend)
	case "policy_setTreasury":
		var params struct {
			Treasury string `json:"treasury"`
		}
		if jsonErr := json.Unmarshal(req.Params[0], &params); jsonErr != nil {
			return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "invalid params", jsonErr.Error())
		}
		treasury, parseErr := parseAddr(params.Treasury, "treasury")
		if parseErr != nil {
			return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, parseErr.Error(), nil)
		}
		err = s.policy.SetTreasury(caller, treasury)
	case "policy_setFoldPartnerShare":
		var params struct {
			FoldPartnerShare bool `json:"foldPartnerShare"`
		}
		if jsonErr := json.Unmarshal(req.Params[0], &params); jsonErr != nil {
			return s.fail(w, req, http.StatusBadRequest, codeInvalidParams, "invalid params", jsonErr.Error())
		}
		err = s.policy.SetFoldPartnerShare(caller, params.FoldPartnerShare)
	}
	if err != nil {
		if code := settleErrorCode(err); code == codeUnauthorized {
			return s.fail(w, req, http.StatusUnauthorized, codeUnauthorized, err.Error(), nil)
		}
		return s.fail(w, req, http.StatusOK, codePolicyDenied, err.Error(), nil)
	}
	return s.handlePolicyGet(w, req)
}
