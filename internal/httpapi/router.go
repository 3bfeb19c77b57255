// Package httpapi is a secondary, read-mostly HTTP surface over the same
// controller/registry the Unix-socket/named-pipe control channel drives.
// Router holds the same Dispatcher contract internal/ipc.Server uses, so
// both control surfaces exercise identical app.Config/registry.Snapshot
// data and neither can drift from the other's view of an app's state.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/appgroup"
	"github.com/bunctl/bunctl/internal/auth"
	"github.com/bunctl/bunctl/internal/ipc"
	"github.com/bunctl/bunctl/internal/tlsutil"
)

// Dispatcher is the subset of internal/daemon.Daemon the HTTP surface
// needs: enough to answer status/list/logs and drive start/stop/restart,
// the same ipc.Dispatcher contract the socket/pipe transport uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd ipc.Command) (any, error)
}

// Router exposes Dispatcher over HTTP. basePath is empty or "/"-prefixed,
// no trailing slash.
type Router struct {
	d        Dispatcher
	basePath string
	guard    *auth.Middleware
	groups   *appgroup.Group
}

// New constructs a Router. guard may be nil to disable authentication
// entirely. groups may be nil to disable the /group/* endpoints.
func New(d Dispatcher, basePath string, guard *auth.Middleware, groups *appgroup.Group) *Router {
	return &Router{d: d, basePath: sanitizeBase(basePath), guard: guard, groups: groups}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	if r.guard != nil {
		group.Use(r.guard.RequireBearer())
	}
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/delete", r.handleDelete)
	group.GET("/status", r.handleStatus)
	group.GET("/list", r.handleList)
	group.GET("/logs", r.handleLogs)
	if r.groups != nil {
		group.GET("/group/status", r.handleGroupStatus)
		group.POST("/group/start", r.handleGroupStart)
		group.POST("/group/stop", r.handleGroupStop)
	}
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return g
}

// Serve runs a standalone HTTP(S) server on addr, using tlsCfg when
// non-nil (built via tlsutil.Setup). It returns once the listener is
// closed or ctx is canceled.
func Serve(ctx context.Context, addr string, handler http.Handler, tlsCfg *tlsutil.Config) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if tlsCfg != nil {
		tc, err := tlsutil.Setup(*tlsCfg)
		if err != nil {
			return fmt.Errorf("httpapi: setup tls: %w", err)
		}
		srv.TLSConfig = tc
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") || strings.ContainsAny(s, "/\\") {
		return false
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

type errorResp struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid or missing name"})
		return
	}
	if _, err := r.d.Dispatch(c.Request.Context(), ipc.Command{Type: ipc.CmdStart, Name: name}); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid or missing name"})
		return
	}
	if _, err := r.d.Dispatch(c.Request.Context(), ipc.Command{Type: ipc.CmdStop, Name: name}); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (r *Router) handleRestart(c *gin.Context) {
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid or missing name"})
		return
	}
	if _, err := r.d.Dispatch(c.Request.Context(), ipc.Command{Type: ipc.CmdRestart, Name: name}); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (r *Router) handleDelete(c *gin.Context) {
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid or missing name"})
		return
	}
	if _, err := r.d.Dispatch(c.Request.Context(), ipc.Command{Type: ipc.CmdDelete, Name: name}); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid or missing name"})
		return
	}
	res, err := r.d.Dispatch(c.Request.Context(), ipc.Command{Type: ipc.CmdStatus, Name: name})
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleList(c *gin.Context) {
	res, err := r.d.Dispatch(c.Request.Context(), ipc.Command{Type: ipc.CmdList})
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleLogs(c *gin.Context) {
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid or missing name"})
		return
	}
	lines := 0
	if ls := c.Query("lines"); ls != "" {
		_, _ = fmt.Sscanf(ls, "%d", &lines)
	}
	res, err := r.d.Dispatch(c.Request.Context(), ipc.Command{Type: ipc.CmdLogs, Name: name, Lines: lines})
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func groupSpecFor(name string, members []string) appgroup.Spec {
	cfgs := make([]app.Config, 0, len(members))
	for _, m := range members {
		cfgs = append(cfgs, app.Config{Name: m})
	}
	return appgroup.Spec{Name: name, Members: cfgs}
}

func (r *Router) handleGroupStatus(c *gin.Context) {
	groupName := c.Query("group")
	if !isSafeName(groupName) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid or missing group"})
		return
	}
	st, err := r.groups.Status(c.Request.Context(), groupSpecFor(groupName, c.QueryArray("member")))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleGroupStart(c *gin.Context) {
	groupName := c.Query("group")
	if !isSafeName(groupName) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid or missing group"})
		return
	}
	if err := r.groups.StartRegistered(c.Request.Context(), groupSpecFor(groupName, c.QueryArray("member"))); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (r *Router) handleGroupStop(c *gin.Context) {
	groupName := c.Query("group")
	if !isSafeName(groupName) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid or missing group"})
		return
	}
	if err := r.groups.Stop(c.Request.Context(), groupSpecFor(groupName, c.QueryArray("member"))); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.Status(http.StatusOK)
}
