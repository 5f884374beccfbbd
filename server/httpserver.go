package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/openindex/indexsync/errors"
	"github.com/openindex/indexsync/proto"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 300
)

type HttpServer struct {
	httpServer *http.Server
	logCloser  auditlog.LogCloser

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) error {
	logHandler, logCloser, err := auditlog.Open("indexsync", &h.cfg.AuditLog)
	if err != nil {
		return err
	}
	h.logCloser = logCloser

	ph := profile.NewProfileHandler(addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), logHandler, ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
	return nil
}

func (h *HttpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
	if h.logCloser != nil {
		h.logCloser.Close()
	}
}

func (h *HttpServer) newHandler() *rpc.Router {
	rpc.POST("/index", h.Index, rpc.OptArgsQuery())
	rpc.POST("/reindex", h.Reindex, rpc.OptArgsQuery())
	rpc.POST("/purge", h.Purge, rpc.OptArgsQuery())
	rpc.POST("/retry", h.Retry)
	rpc.POST("/fix", h.Fix, rpc.OptArgsQuery())
	rpc.GET("/check", h.Check)
	rpc.GET("/report/tx", h.TxReport, rpc.OptArgsQuery())
	rpc.GET("/report/acltx", h.AclTxReport, rpc.OptArgsQuery())
	rpc.GET("/report/acl", h.AclReport, rpc.OptArgsQuery())
	rpc.GET("/report/node", h.NodeReport, rpc.OptArgsQuery())
	rpc.GET("/summary", h.Summary)
	rpc.GET("/rangecheck", h.RangeCheck)
	rpc.POST("/expand", h.Expand, rpc.OptArgsQuery())
	rpc.GET("/metrics", h.Metrics)

	return rpc.DefaultRouter
}

// itemArgs addresses repository items by id; zero members are ignored.
type itemArgs struct {
	TxID     int64  `json:"txid"`
	AclTxID  int64  `json:"acltxid"`
	NodeID   int64  `json:"nodeid"`
	AclID    int64  `json:"aclid"`
	CommitMs int64  `json:"commit_ms"`
	Query    string `json:"query"`
}

// Index indexes the named items in place.
func (h *HttpServer) Index(c *rpc.Context) {
	args := new(itemArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	ctx := c.Request.Context()

	if args.TxID > 0 {
		if err := h.eng.IndexTransaction(ctx, &proto.Transaction{ID: args.TxID, CommitTime: args.CommitMs}); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.AclTxID > 0 {
		if err := h.eng.IndexAclTransaction(ctx, &proto.AclChangeSet{ID: args.AclTxID, CommitTime: args.CommitMs}); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.AclID > 0 {
		if err := h.eng.ReindexAcl(ctx, args.AclID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.NodeID > 0 {
		node := &proto.Node{ID: args.NodeID, Status: proto.NodeStatusUnknown}
		if err := h.eng.IndexNode(ctx, node, true); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	h.commitAndRespond(c)
}

// Reindex rebuilds the named items, or every node matched by a free-text
// query, from repository state.
func (h *HttpServer) Reindex(c *rpc.Context) {
	args := new(itemArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	ctx := c.Request.Context()

	if args.TxID > 0 {
		if err := h.eng.ReindexTransactionNodes(ctx, args.TxID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.AclTxID > 0 {
		if err := h.eng.ReindexAclChangeSet(ctx, args.AclTxID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.AclID > 0 {
		if err := h.eng.ReindexAcl(ctx, args.AclID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.NodeID > 0 {
		node := &proto.Node{ID: args.NodeID, Status: proto.NodeStatusUnknown}
		if err := h.eng.IndexNode(ctx, node, true); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.Query != "" {
		ids, err := h.eng.ReindexNodesByQuery(ctx, args.Query)
		if err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
		if err := h.eng.Commit(ctx); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
		c.RespondJSON(map[string]interface{}{"reindexed": ids})
		return
	}
	h.commitAndRespond(c)
}

// Purge removes the named items from the index.
func (h *HttpServer) Purge(c *rpc.Context) {
	args := new(itemArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	ctx := c.Request.Context()

	if args.TxID > 0 {
		if err := h.eng.DeleteByTransactionID(ctx, args.TxID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.AclTxID > 0 {
		if err := h.eng.DeleteByAclChangeSetID(ctx, args.AclTxID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.AclID > 0 {
		if err := h.eng.DeleteByAclID(ctx, args.AclID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	if args.NodeID > 0 {
		if err := h.eng.DeleteByNodeID(ctx, proto.DefaultTenant, args.NodeID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}
	h.commitAndRespond(c)
}

// Retry re-queues every node currently recorded as an error document.
func (h *HttpServer) Retry(c *rpc.Context) {
	ctx := c.Request.Context()
	ids, err := h.eng.RetryErrorNodes(ctx)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	if err := h.eng.Commit(ctx); err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondJSON(map[string]interface{}{"retried": ids})
}

type reportArgs struct {
	FromTime   int64 `json:"from_time"`
	MaxResults int   `json:"max_results"`
}

// Fix reconciles the index against the repository and reindexes every
// missing transaction and change-set it finds.
func (h *HttpServer) Fix(c *rpc.Context) {
	args := new(reportArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	ctx := c.Request.Context()

	txReport, err := h.eng.ReportIndexTransactions(ctx, args.FromTime, args.MaxResults)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	for _, txID := range txReport.MissingTxFromIndex {
		if err := h.eng.ReindexTransactionNodes(ctx, txID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}

	aclReport, err := h.eng.ReportAclTransactions(ctx, args.FromTime, args.MaxResults)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	for _, changeSetID := range aclReport.MissingTxFromIndex {
		if err := h.eng.ReindexAclChangeSet(ctx, changeSetID); err != nil {
			c.RespondError(apierrors.BadRequest(err))
			return
		}
	}

	if err := h.eng.Commit(ctx); err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondJSON(map[string]interface{}{
		"tx_fixed":    txReport.MissingTxFromIndex,
		"acltx_fixed": aclReport.MissingTxFromIndex,
	})
}

// Check flags the next tracking cycle to run its consistency pass; the
// results land in the log, REPORT returns them on demand.
func (h *HttpServer) Check(c *rpc.Context) {
	h.scheduler.RequestConsistencyCheck()
	c.RespondJSON(map[string]bool{"scheduled": true})
}

func (h *HttpServer) TxReport(c *rpc.Context) {
	args := new(reportArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	report, err := h.eng.ReportIndexTransactions(c.Request.Context(), args.FromTime, args.MaxResults)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondJSON(report)
}

func (h *HttpServer) AclTxReport(c *rpc.Context) {
	args := new(reportArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	report, err := h.eng.ReportAclTransactions(c.Request.Context(), args.FromTime, args.MaxResults)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondJSON(report)
}

func (h *HttpServer) AclReport(c *rpc.Context) {
	args := new(itemArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	inIndex, err := h.eng.AclChangeSetInIndex(c.Request.Context(), args.AclTxID, false)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondJSON(map[string]interface{}{"acltxid": args.AclTxID, "in_index": inIndex})
}

func (h *HttpServer) NodeReport(c *rpc.Context) {
	args := new(itemArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	report, err := h.eng.ReportNode(c.Request.Context(), proto.DefaultTenant, args.NodeID)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondJSON(report)
}

func (h *HttpServer) Summary(c *rpc.Context) {
	ctx := c.Request.Context()
	nodeCount, err := h.eng.NodeCount(ctx)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondJSON(map[string]interface{}{
		"trackers":   h.scheduler.Summary(),
		"node_count": nodeCount,
		"range": map[string]interface{}{
			"start":    h.rng.StartRange(),
			"end":      h.rng.EndRange(),
			"expanded": h.rng.Expanded(),
		},
	})
}

func (h *HttpServer) RangeCheck(c *rpc.Context) {
	result, err := h.rng.RangeCheck(c.Request.Context(), h.eng)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondJSON(result)
}

type expandArgs struct {
	Add int64 `json:"add"`
}

func (h *HttpServer) Expand(c *rpc.Context) {
	args := new(expandArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.Add <= 0 {
		c.RespondError(rpc.NewError(http.StatusBadRequest, "BadRequest", errors.New("add must be positive")))
		return
	}

	h.expandLock.Lock()
	defer h.expandLock.Unlock()

	newEnd, err := h.rng.Expand(c.Request.Context(), h.eng, args.Add)
	if err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondJSON(map[string]int64{"end_range": newEnd})
}

func (h *HttpServer) Metrics(c *rpc.Context) {
	promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

func (h *HttpServer) commitAndRespond(c *rpc.Context) {
	if err := h.eng.Commit(c.Request.Context()); err != nil {
		c.RespondError(apierrors.BadRequest(err))
		return
	}
	c.RespondStatus(http.StatusOK)
}
