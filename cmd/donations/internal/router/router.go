package router

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/lifecycle"
	"anarchy.ttfm/donations/methods"
	"anarchy.ttfm/donations/offline"
	"github.com/gin-gonic/gin"
)

// Manages the entire setup of the donations service
type Router struct {
	// Process interval
	ProcessInterval time.Duration
	// Donation engine
	Controller *lifecycle.Controller
	// Offline queue replay
	Sync *offline.SyncManager
	// Payment method registry
	Methods *methods.Store
	// Base Gin Group to use for routing
	Base gin.IRoutes
}

const (
	IdParam             = "id"
	UserParam           = "user"
	DonationsPath       = "/donations"
	DonationsPathWithId = DonationsPath + "/:" + IdParam
	StatusPath          = DonationsPathWithId + "/status"
	CancelPath          = DonationsPathWithId + "/cancel"
	CancelRecurringPath = DonationsPathWithId + "/cancel-recurring"
	RetryPath           = DonationsPathWithId + "/retry"
	RefundPath          = DonationsPathWithId + "/refund"
	DisputePath         = DonationsPathWithId + "/dispute"
	MethodsPath         = "/users/:" + UserParam + "/methods"
	SyncPath            = "/sync"

	StatusEvent = "status"

	DefaultProcessInterval = 30 * time.Second
)

func abort(ctx *gin.Context, err error) {
	status, body := ErrorFromDomain(err)
	if status >= http.StatusInternalServerError {
		log.Println("ERROR|HTTP|DONATIONS:", ctx.Request.URL.Path, err)
	}
	ctx.AbortWithStatusJSON(status, &body)
}

func respond(ctx *gin.Context, status int, d *donation.Donation) {
	out := donation.Public(d)
	ctx.JSON(status, &out)
}

func (r *Router) createDonation(ctx *gin.Context) {
	var req lifecycle.Request
	err := ctx.BindJSON(&req)
	if err != nil {
		return
	}

	d, err := r.Controller.Create(req)
	switch {
	case err != nil:
		abort(ctx, err)
	case d.Temporary:
		respond(ctx, http.StatusAccepted, &d)
	default:
		respond(ctx, http.StatusCreated, &d)
	}
}

func (r *Router) getDonation(ctx *gin.Context) {
	d, err := r.Controller.Get(ctx.Param(IdParam))
	if err != nil {
		abort(ctx, err)
		return
	}
	respond(ctx, http.StatusOK, &d)
}

// donationStatus streams status updates as server-sent events until the
// donation reaches a final status or the client leaves
func (r *Router) donationStatus(ctx *gin.Context) {
	sub, current, err := r.Controller.Observe(ctx.Param(IdParam))
	if err != nil {
		abort(ctx, err)
		return
	}
	defer sub.Cancel()

	ctx.Header("Cache-Control", "no-cache")
	ctx.SSEvent(StatusEvent, &current)
	ctx.Writer.Flush()
	if current.Status.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Request.Context().Done():
			return
		case update := <-sub.Updates():
			ctx.SSEvent(StatusEvent, &update)
			ctx.Writer.Flush()
			if update.Status.Terminal() {
				return
			}
		}
	}
}

func (r *Router) cancelDonation(ctx *gin.Context) {
	d, err := r.Controller.Cancel(ctx, ctx.Param(IdParam))
	if err != nil {
		abort(ctx, err)
		return
	}
	respond(ctx, http.StatusOK, &d)
}

func (r *Router) cancelRecurring(ctx *gin.Context) {
	d, err := r.Controller.CancelRecurring(ctx, ctx.Param(IdParam))
	if err != nil {
		abort(ctx, err)
		return
	}
	respond(ctx, http.StatusOK, &d)
}

func (r *Router) retryDonation(ctx *gin.Context) {
	d, err := r.Controller.RetryFailed(ctx, ctx.Param(IdParam))
	switch {
	case err != nil:
		abort(ctx, err)
	case d.Temporary:
		respond(ctx, http.StatusAccepted, &d)
	default:
		respond(ctx, http.StatusCreated, &d)
	}
}

func (r *Router) refundDonation(ctx *gin.Context) {
	var reason Reason
	err := ctx.BindJSON(&reason)
	if err != nil {
		return
	}

	d, err := r.Controller.Refund(ctx, ctx.Param(IdParam), reason.Reason)
	if err != nil {
		abort(ctx, err)
		return
	}
	respond(ctx, http.StatusOK, &d)
}

func (r *Router) disputeDonation(ctx *gin.Context) {
	var reason Reason
	err := ctx.BindJSON(&reason)
	if err != nil {
		return
	}

	d, err := r.Controller.Dispute(ctx, ctx.Param(IdParam), reason.Reason)
	if err != nil {
		abort(ctx, err)
		return
	}
	respond(ctx, http.StatusOK, &d)
}

func (r *Router) registerMethod(ctx *gin.Context) {
	var registration methods.Registration
	err := ctx.BindJSON(&registration)
	if err != nil {
		return
	}

	method, err := r.Methods.Register(ctx.Param(UserParam), registration)
	if err != nil {
		abort(ctx, err)
		return
	}
	method.Token = ""
	ctx.JSON(http.StatusCreated, &method)
}

func (r *Router) listMethods(ctx *gin.Context) {
	list, err := r.Methods.List(ctx.Param(UserParam))
	if err != nil {
		abort(ctx, err)
		return
	}
	if list == nil {
		list = []donation.PaymentMethod{}
	}
	ctx.JSON(http.StatusOK, list)
}

func (r *Router) syncQueues(ctx *gin.Context) {
	report, err := r.Sync.SyncAll(ctx)
	if err != nil {
		abort(ctx, err)
		return
	}
	out := SyncReportFromOffline(&report)
	ctx.JSON(http.StatusOK, &out)
}

// Register routes in the Gin engine
func (r *Router) Register() {
	r.Base.POST(DonationsPath, r.createDonation)
	r.Base.GET(DonationsPathWithId, r.getDonation)
	r.Base.GET(StatusPath, r.donationStatus)
	r.Base.POST(CancelPath, r.cancelDonation)
	r.Base.POST(CancelRecurringPath, r.cancelRecurring)
	r.Base.POST(RetryPath, r.retryDonation)
	r.Base.POST(RefundPath, r.refundDonation)
	r.Base.POST(DisputePath, r.disputeDonation)
	r.Base.POST(MethodsPath, r.registerMethod)
	r.Base.GET(MethodsPath, r.listMethods)
	r.Base.POST(SyncPath, r.syncQueues)
}

// Process runs the sweeps every ProcessInterval until ctx is done
func (r *Router) Process(ctx context.Context) {
	interval := r.ProcessInterval
	if interval <= 0 {
		interval = DefaultProcessInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Controller.ProcessAll(ctx)
			if err != nil {
				log.Println("ERROR|PROCESSING|DONATIONS", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := r.Sync.SyncAll(ctx)
			if err != nil {
				if !errors.Is(err, offline.ErrOffline) {
					log.Println("ERROR|SYNC|USERS", err)
				}
				return
			}
			for _, err := range report.Errors() {
				log.Println("ERROR|SYNC|USERS", err)
			}
		}()
		wg.Wait()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
