package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"mabridge/bridge"
	"mabridge/ledger"
	"mabridge/token"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responseError(w http.ResponseWriter, field, message string, code int) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Field:   field,
		Message: message,
	}, code)
}

// errorStatus maps bridge and storage errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, bridge.ErrAlreadyRedeemed):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrInvalidSignature),
		errors.Is(err, bridge.ErrZeroAmount),
		errors.Is(err, bridge.ErrInvalidAmount),
		errors.Is(err, bridge.ErrZeroAddress),
		errors.Is(err, bridge.ErrUnsupportedChain),
		errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func uintParam(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, name), 10, 64)
}

func newValidate() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterValidation("ethaddr", func(fl validator.FieldLevel) bool {
		return ethav.Validate(fl.Field().String()) == nil
	})
	return validate
}

// firstInvalidField names the JSON field of the first validation failure
func firstInvalidField(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return ""
}
