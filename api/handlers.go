package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"chatrank/broadcast"
	"chatrank/domain"
	"chatrank/ranking"
	"chatrank/storage"
)

const callbackMaxSize = 64 * 1024 // 64 KiB

const (
	routeConnect    = "connect"
	routeDisconnect = "disconnect"
	routeGetRanking = "getRanking"
)

const subscriptionTypeChatMessage = "channel.chat.message"

var eventsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chatrank_events_ingested_total",
	Help: "Chat events accepted by the webhook endpoint.",
})

// Deps carries the collaborators the HTTP surface dispatches to.
type Deps struct {
	Events        EventWriter
	Registry      Registry
	Ranker        Ranker
	Sender        Sender
	Snapshots     SnapshotReader
	WebhookSecret []byte
	WindowLen     time.Duration
	Logger        *log.Logger
	Now           func() int64
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	if deps.Now == nil {
		deps.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if deps.WindowLen <= 0 {
		deps.WindowLen = ranking.DefaultWindow
	}
	e.POST("/eventsub/callback", eventSubCallback(deps))
	e.POST("/connections/:id/:route", connectionRoute(deps))
	e.GET("/rankings/:end", rankingHistory(deps))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// eventSubNotification is the subset of an EventSub envelope the service
// reads. Unknown fields are ignored at the boundary.
type eventSubNotification struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		Type      string `json:"type"`
		Condition struct {
			BroadcasterUserID string `json:"broadcaster_user_id"`
		} `json:"condition"`
	} `json:"subscription"`
	Event struct {
		MessageID     string `json:"message_id"`
		ChatterUserID string `json:"chatter_user_id"`
		Message       struct {
			Text string `json:"text"`
		} `json:"message"`
	} `json:"event"`
}

func eventSubCallback(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		headers := c.Request().Header
		if !hasRequiredHeaders(headers) {
			return c.NoContent(http.StatusBadRequest)
		}
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, callbackMaxSize))
		if err != nil || len(body) == 0 {
			return c.NoContent(http.StatusBadRequest)
		}
		if !validSignature(deps.WebhookSecret, headers, body) {
			deps.Logger.WithField("message_id", headers.Get(headerMessageID)).
				Warn("rejecting callback with bad signature")
			return c.NoContent(http.StatusForbidden)
		}

		var notification eventSubNotification
		if err := sonic.Unmarshal(body, &notification); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}

		switch headers.Get(headerMessageType) {
		case messageTypeVerification:
			if notification.Challenge == "" {
				return c.NoContent(http.StatusBadRequest)
			}
			return c.String(http.StatusOK, notification.Challenge)

		case messageTypeNotification:
			if notification.Subscription.Type != subscriptionTypeChatMessage {
				return c.NoContent(http.StatusOK)
			}
			ev := domain.ChatEvent{
				MessageID:     notification.Event.MessageID,
				ChatterID:     notification.Event.ChatterUserID,
				BroadcasterID: notification.Subscription.Condition.BroadcasterUserID,
				Text:          notification.Event.Message.Text,
				ReceivedAt:    deps.Now(),
			}
			if ev.MessageID == "" {
				ev.MessageID = uuid.NewString()
			}
			if err := deps.Events.AddEvent(c.Request().Context(), ev); err != nil {
				// The signature already validated, so a failed write is our
				// fault; answer 200 anyway to keep the sender from retrying
				// into a storm.
				deps.Logger.WithError(err).WithField("message_id", ev.MessageID).
					Error("failed to store chat event")
				return c.NoContent(http.StatusOK)
			}
			eventsIngestedTotal.Inc()
			return c.NoContent(http.StatusOK)

		default:
			return c.NoContent(http.StatusOK)
		}
	}
}

// rankingHistory serves snapshots persisted by earlier scheduled runs,
// keyed by their window end in unix milliseconds.
func rankingHistory(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		windowEnd, err := strconv.ParseInt(c.Param("end"), 10, 64)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid window end")
		}
		snap, err := deps.Snapshots.GetSnapshot(c.Request().Context(), ranking.RankingKey, windowEnd)
		if err != nil {
			var notFound storage.SnapshotNotFoundError
			if errors.As(err, &notFound) {
				return c.JSON(http.StatusNotFound, domain.NewErrorMessage("no snapshot for window"))
			}
			deps.Logger.WithError(err).Error("snapshot read failed")
			return c.JSON(http.StatusInternalServerError, domain.NewErrorMessage("snapshot read failed"))
		}
		return c.JSON(http.StatusOK, domain.NewRankingMessage(snap))
	}
}

func connectionRoute(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		connectionID := c.Param("id")
		if connectionID == "" {
			return c.String(http.StatusBadRequest, "missing connection id")
		}

		switch c.Param("route") {
		case routeConnect:
			if err := deps.Registry.AddSubscriber(ctx, connectionID); err != nil {
				deps.Logger.WithError(err).Error("connect failed")
				return c.JSON(http.StatusInternalServerError, domain.NewErrorMessage("connect failed"))
			}
			return c.NoContent(http.StatusOK)

		case routeDisconnect:
			if err := deps.Registry.RemoveSubscriber(ctx, connectionID); err != nil {
				deps.Logger.WithError(err).Error("disconnect failed")
				return c.JSON(http.StatusInternalServerError, domain.NewErrorMessage("disconnect failed"))
			}
			return c.NoContent(http.StatusOK)

		case routeGetRanking:
			return getRanking(c, deps, connectionID)

		default:
			return c.String(http.StatusBadRequest, "unknown route")
		}
	}
}

func getRanking(c echo.Context, deps Deps, connectionID string) error {
	reqCtx := c.Request().Context()

	// The pipeline runs detached from the request context so the snapshot
	// is computed and persisted even if the requester disconnects mid-way.
	snap, err := deps.Ranker.ComputeLeaderboard(context.WithoutCancel(reqCtx), deps.Now(), deps.WindowLen)
	if err != nil {
		var writeErr ranking.SnapshotWriteError
		if !errors.As(err, &writeErr) {
			deps.Logger.WithError(err).Error("ranking computation failed")
			return c.JSON(http.StatusInternalServerError, domain.NewErrorMessage("ranking computation failed"))
		}
		// The snapshot value survived the storage fault; the requester still
		// gets its leaderboard.
		deps.Logger.WithError(err).Error("snapshot persistence failed")
	}

	payload, err := sonic.Marshal(domain.NewRankingMessage(snap))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, domain.NewErrorMessage("encode failed"))
	}
	if err := deps.Sender.Send(reqCtx, connectionID, payload); err != nil {
		if errors.Is(err, broadcast.ErrGone) {
			// Requester vanished between asking and answering; drop it and
			// treat the request as handled.
			if rmErr := deps.Registry.RemoveSubscriber(reqCtx, connectionID); rmErr != nil {
				deps.Logger.WithError(rmErr).Error("failed to prune gone requester")
			}
			return c.NoContent(http.StatusOK)
		}
		deps.Logger.WithError(err).Error("ranking delivery failed")
		return c.JSON(http.StatusInternalServerError, domain.NewErrorMessage("delivery failed"))
	}
	return c.NoContent(http.StatusOK)
}
