// Package middleware содержит HTTP middleware сервиса комиссий.
package middleware

import (
	"crypto/hmac"
	"net/http"
)

// AdminKeyHeader — заголовок, в котором административные запросы передают ключ.
const AdminKeyHeader = "X-Admin-Key"

// AdminAuth проверяет ключ администратора в заголовке запроса.
type AdminAuth struct {
	key []byte
}

// NewAdminAuth создаёт новый экземпляр AdminAuth с указанным ключом.
// Пустой ключ отключает проверку: запросы пропускаются безусловно (dev-режим).
func NewAdminAuth(key string) *AdminAuth {
	return &AdminAuth{key: []byte(key)}
}

// Middleware отклоняет запросы с отсутствующим или неверным ключом администратора.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.key) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(AdminKeyHeader)
		if header == "" || !hmac.Equal([]byte(header), a.key) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
