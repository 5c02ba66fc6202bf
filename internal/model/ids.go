package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/stoewer/go-strcase"
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Slug приводит имя к kebab-case из латиницы и цифр
func Slug(name string) string {
	cleaned := strings.TrimSpace(nonAlnum.ReplaceAllString(name, " "))
	if cleaned == "" {
		return "api"
	}
	slug := strings.Trim(strcase.KebabCase(cleaned), "-")
	slug = strings.ReplaceAll(slug, "--", "-")
	if slug == "" {
		return "api"
	}
	return slug
}

// ShortHash первые восемь hex-символов SHA-256
func ShortHash(s string) string {
	return hashHex([]byte(s), 8)
}

func hashHex(b []byte, n int) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:n]
}

// DeriveID идентификатор регистрации: slug(name)-sha256(url)[:8].
// Хэш не даёт двум разным API с одинаковым названием перезаписать друг друга.
func DeriveID(name, sourceURL string) string {
	return Slug(name) + "-" + ShortHash(sourceURL)
}

// EndpointID детерминированный id эндпоинта внутри регистрации
func EndpointID(operationID, method, path string) string {
	return Slug(operationID) + "-" + ShortHash(strings.ToUpper(method)+" "+path)
}

// OperationIDFor генерирует operation id, если источник его не задал
func OperationIDFor(method, path string) string {
	cleaned := strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(method)+" "+path, " "))
	return strcase.SnakeCase(cleaned)
}

// EnsureUniqueOperationIDs добавляет суффиксы _2, _3 к повторам и проставляет id
func EnsureUniqueOperationIDs(endpoints []Endpoint) {
	seen := make(map[string]int, len(endpoints))
	for i := range endpoints {
		ep := &endpoints[i]
		if ep.OperationID == "" {
			ep.OperationID = OperationIDFor(ep.Method, ep.Path)
		}
		base := ep.OperationID
		seen[base]++
		if n := seen[base]; n > 1 {
			candidate := fmt.Sprintf("%s_%d", base, n)
			for seen[candidate] > 0 {
				n++
				candidate = fmt.Sprintf("%s_%d", base, n)
			}
			seen[candidate] = 1
			ep.OperationID = candidate
		}
		ep.ID = EndpointID(ep.OperationID, ep.Method, ep.Path)
	}
}

// CarryForward переносит в обновлённую регистрацию то, что не меняется при refresh:
// id, владельца, дату создания, аутентификацию и флаги включения эндпоинтов.
func CarryForward(prev, next *Registration) {
	if prev == nil || next == nil {
		return
	}
	next.ID = prev.ID
	next.OwnerID = prev.OwnerID
	next.CreatedAt = prev.CreatedAt
	next.Enabled = prev.Enabled
	next.Auth = prev.Auth
	next.ConcurrencyToken = prev.ConcurrencyToken
	if next.SourceURL == "" {
		next.SourceURL = prev.SourceURL
	}

	enabled := make(map[string]bool, len(prev.Endpoints))
	for _, ep := range prev.Endpoints {
		enabled[ep.OperationID] = ep.Enabled
	}
	for i := range next.Endpoints {
		if v, ok := enabled[next.Endpoints[i].OperationID]; ok {
			next.Endpoints[i].Enabled = v
		}
	}
}
