package guard

import (
	"github.com/gofiber/fiber/v2"
	crmauth "github.com/goliatone/go-crmauth"
)

// RequirePermission only lets the request through when the resolver the
// guard placed in the user context grants action on resource. The
// optional param names a route parameter holding the record id.
func RequirePermission(resource crmauth.ResourceType, action crmauth.ActionType, param ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var ids []string
		if len(param) > 0 && param[0] != "" {
			if id := c.Params(param[0]); id != "" {
				ids = append(ids, id)
			}
		}

		if !crmauth.Can(c.UserContext(), string(resource), string(action), ids...) {
			return fiber.NewError(fiber.StatusForbidden, "insufficient permissions for "+string(resource)+":"+string(action))
		}
		return c.Next()
	}
}
