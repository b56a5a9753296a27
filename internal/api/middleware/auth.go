package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"

	"go.uber.org/zap"

	"perpguard/pkg/crypto"
	"perpguard/pkg/ratelimit"
	"perpguard/pkg/utils"
)

// Неудачные попытки входа: 5 подряд, затем одна в 12 секунд на IP
const (
	authFailureRate  = 1.0 / 12
	authFailureBurst = 5
)

// OperatorAuth - HTTP Basic аутентификация оператора для изменяющих маршрутов
// (сброс и ручное открытие breakers, запуск сверки, применение корректировок).
//
// Пароль сверяется с bcrypt-хешем из OPERATOR_PASSWORD_HASH, имя - constant-time.
// Неудачные попытки ограничены по IP клиента: после исчерпания лимита
// запрос отклоняется с 429 без проверки пароля.
type OperatorAuth struct {
	user         string
	passwordHash string
	failures     *ratelimit.KeyedLimiter
	logger       *zap.Logger
}

// NewOperatorAuth создаёт middleware аутентификации оператора
func NewOperatorAuth(user, passwordHash string, logger *zap.Logger) *OperatorAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperatorAuth{
		user:         user,
		passwordHash: passwordHash,
		failures:     ratelimit.NewKeyedLimiter(authFailureRate, authFailureBurst),
		logger:       logger.With(utils.Component("auth")),
	}
}

// Middleware возвращает обёртку для mux.Router.Use
func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		user, pass, ok := r.BasicAuth()
		if !ok {
			unauthorized(w)
			return
		}

		if a.failures.Get(ip).Tokens() < 1 {
			a.logger.Warn("operator auth throttled", zap.String("remote_ip", ip))
			w.Header().Set("Retry-After", "12")
			respondError(w, http.StatusTooManyRequests, "too many failed attempts")
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
		passErr := crypto.VerifyPassword(pass, a.passwordHash)

		if !userMatch || passErr != nil {
			a.failures.Allow(ip)
			a.logger.Warn("operator auth failed",
				zap.String("remote_ip", ip),
				zap.String("user", user),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			unauthorized(w)
			return
		}

		a.logger.Info("operator action",
			zap.String("user", user),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r)
	})
}

// Cleanup освобождает счётчики IP без недавних ошибок
func (a *OperatorAuth) Cleanup() int {
	return a.failures.Cleanup()
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="perpguard operator"`)
	respondError(w, http.StatusUnauthorized, "unauthorized")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
