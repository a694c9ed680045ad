package errors

import (
	"encoding/json"
	"net/http"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

func Write(w http.ResponseWriter, status int, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: apiErr})
}

func BadRequest(w http.ResponseWriter, message string) {
	Write(w, http.StatusBadRequest, APIError{Code: "BAD_REQUEST", Message: message})
}

func Unauthorized(w http.ResponseWriter, code, message string) {
	Write(w, http.StatusUnauthorized, APIError{Code: code, Message: message})
}

func Internal(w http.ResponseWriter) {
	Write(w, http.StatusInternalServerError, APIError{Code: "INTERNAL", Message: "internal server error"})
}
