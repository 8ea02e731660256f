package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/openrating/core/internal/auth"
	"github.com/openrating/core/internal/authz"
)

const subjectKey = "openrating.subject"

// authenticate validates the bearer token on every /v1 route and stores
// the resulting authz.Subject in the gin context for handlers to read.
// When s.Validator is nil (AUTH_DISABLE=1, or no validator configured),
// no token is checked and the request carries an empty authz.Subject; the
// coordinator's Authorizer then decides match submissions (AllowAll under
// AUTH_DISABLE=1, mirroring config.AuthDisable).
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Validator == nil {
			c.Set(subjectKey, authz.Subject{})
			c.Next()
			return
		}

		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			mapError(c, err)
			c.Abort()
			return
		}
		subject, err := s.Validator.Authenticate(token)
		if err != nil {
			mapError(c, err)
			c.Abort()
			return
		}
		c.Set(subjectKey, subject)
		c.Next()
	}
}

func subjectFrom(c *gin.Context) authz.Subject {
	v, ok := c.Get(subjectKey)
	if !ok {
		return authz.Subject{}
	}
	subject, _ := v.(authz.Subject)
	return subject
}
