package opshttp

import (
	"net/http"

	"github.com/keithlinneman/modpack-server/internal/httpmw"
	"github.com/keithlinneman/modpack-server/internal/log"
)

// requireNonPublicNetwork rejects peers outside loopback, private and
// link-local ranges with 403. The admin port should never be exposed, this
// catches a misconfigured security group. The TCP peer is used directly;
// forwarding headers are ignored.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := httpmw.ParseRemoteAddr(r.RemoteAddr)
		if !ok || !httpmw.IsNonPublic(addr) {
			L.Warn(r.Context(), "ops request from public address rejected",
				"network.peer.address", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
