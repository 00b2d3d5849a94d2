package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"roachplane/services/store"
)

// The authenticating proxy in front of the API asserts identity through
// these headers. The API trusts them; authentication itself happens upstream.
const (
	headerRemoteUser   = "X-Remote-User"
	headerRemoteGroups = "X-Remote-Groups"
)

var errNoPrincipal = errors.New("no authenticated principal")

func principalFrom(r *http.Request) (store.Principal, error) {
	user := strings.TrimSpace(r.Header.Get(headerRemoteUser))
	if user == "" {
		return store.Principal{}, errNoPrincipal
	}

	var groups []string
	for _, g := range strings.Split(r.Header.Get(headerRemoteGroups), ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return store.Principal{User: user, Groups: groups}, nil
}

// canManage reports whether the principal may mutate the cluster: admins may
// mutate anything, everyone else only clusters owned by one of their groups.
func (a *API) canManage(ctx context.Context, p store.Principal, cluster store.Cluster) (bool, error) {
	admin, err := a.store.IsAdmin(ctx, p)
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}
	for _, g := range p.Groups {
		if g == cluster.Group {
			return true, nil
		}
	}
	return false, nil
}
