package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

const authClockSkew = 2 * time.Minute

// requireAuth validates the bearer token and resolves the caller address from
// its "caller" claim. Privileged methods act on behalf of that address, so
// role checks happen downstream in the policy store and engine.
func (s *Server) requireAuth(r *http.Request) (common.Address, *RPCError) {
	if len(s.secret) == 0 {
		return common.Address{}, &RPCError{Code: codeUnauthorized, Message: "privileged methods disabled: no secret configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return common.Address{}, &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return common.Address{}, &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenString == "" {
		return common.Address{}, &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}

	claims, err := s.parseToken(tokenString)
	if err != nil {
		return common.Address{}, &RPCError{Code: codeUnauthorized, Message: "invalid token"}
	}
	caller, err := callerClaim(claims)
	if err != nil {
		return common.Address{}, &RPCError{Code: codeUnauthorized, Message: err.Error()}
	}
	return caller, nil
}

func (s *Server) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithLeeway(authClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	return claims, nil
}

func callerClaim(claims jwt.MapClaims) (common.Address, error) {
	raw, ok := claims["caller"]
	if !ok {
		return common.Address{}, errors.New("token missing caller claim")
	}
	value, ok := raw.(string)
	if !ok || !common.IsHexAddress(value) {
		return common.Address{}, errors.New("caller claim is not a hex address")
	}
	return common.HexToAddress(value), nil
}
