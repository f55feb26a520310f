package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/veltix/auth-api/internal/httputil"
	"github.com/veltix/auth-api/internal/logging"
)

// Authorizer is a predicate over the resolved principal. Predicates are
// expected to be side-effect free; a chain passes only if every predicate
// returns true.
type Authorizer func(ctx context.Context, p *Principal) (bool, error)

// Authenticated passes for a real, non-guest principal.
func Authenticated() Authorizer {
	return func(ctx context.Context, p *Principal) (bool, error) {
		return p.Authenticated(), nil
	}
}

// AnyPrincipal passes for any resolved principal, including the public guest.
func AnyPrincipal() Authorizer {
	return func(ctx context.Context, p *Principal) (bool, error) {
		return p != nil, nil
	}
}

// Can checks that the principal holds the "<action>:<resource-slug>"
// permission.
func Can(action, resourceSlug string) Authorizer {
	slug := action + ":" + resourceSlug
	return func(ctx context.Context, p *Principal) (bool, error) {
		return p.Can(slug), nil
	}
}

// ActionForMethod maps an HTTP verb onto the CRUD permission action.
// GET on a collection is fetch, GET on a single record is show.
func ActionForMethod(method string, single bool) string {
	switch method {
	case http.MethodPost:
		return "insert"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	case http.MethodGet:
		if single {
			return "show"
		}
		return "fetch"
	default:
		return ""
	}
}

// Pipeline is the ordered, short-circuiting authorization chain applied to
// every routed operation: resolve principal, apply the public fallback,
// reject blocked accounts, then evaluate the route's predicate list.
type Pipeline struct {
	resolver  *Resolver
	logger    *logging.Logger
	withRoles bool
}

func NewPipeline(resolver *Resolver, logger *logging.Logger, withRoles bool) *Pipeline {
	return &Pipeline{resolver: resolver, logger: logger, withRoles: withRoles}
}

// Middleware resolves the principal, applies the public fallback and runs
// the block check. Mounted on every route, public ones included.
func (pl *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := pl.resolver.Resolve(r.Context(), r)

		if principal == nil && pl.withRoles {
			public, err := pl.resolver.PublicPrincipal(r.Context())
			if err != nil {
				pl.logger.Error("failed to resolve public principal", "error", err.Error())
				httputil.RespondErrorWithCode(w, "internal error", httputil.CodeInternalError, http.StatusInternalServerError)
				return
			}
			principal = public
		}

		// Block check precedes every other authorization step. The
		// synthetic public principal is never blocked.
		if principal != nil && !principal.Public && principal.User.Blocked() {
			httputil.RespondErrorWithCode(w, "Your account is temporarily disabled.", httputil.CodeAccountBlocked, http.StatusForbidden)
			return
		}

		if principal != nil {
			r = r.WithContext(WithPrincipal(r.Context(), principal))
		}

		next.ServeHTTP(w, r)
	})
}

// Require guards a route with a predicate list. All predicates must pass;
// they run concurrently and any false or error fails the whole chain.
func (pl *Pipeline) Require(authorizers ...Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := PrincipalFromContext(r.Context())

			if !Evaluate(r.Context(), principal, authorizers...) {
				httputil.RespondErrorWithCode(w, "Unauthorized.", httputil.CodeUnauthorized, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Evaluate runs a predicate list with require-all semantics. Predicates are
// order-independent and run concurrently; an error counts as false.
func Evaluate(ctx context.Context, p *Principal, authorizers ...Authorizer) bool {
	if len(authorizers) == 0 {
		return true
	}
	if len(authorizers) == 1 {
		ok, err := authorizers[0](ctx, p)
		return err == nil && ok
	}

	results := make([]bool, len(authorizers))
	var wg sync.WaitGroup
	for i, authorize := range authorizers {
		wg.Add(1)
		go func(i int, authorize Authorizer) {
			defer wg.Done()
			ok, err := authorize(ctx, p)
			results[i] = err == nil && ok
		}(i, authorize)
	}
	wg.Wait()

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}
