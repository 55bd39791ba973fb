package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"goji.io"
	"goji.io/pat"

	"github.com/stripe/requesttrace"
	"github.com/stripe/requesttrace/events"
	"github.com/stripe/requesttrace/store"
	"github.com/stripe/requesttrace/util/build"
	"github.com/stripe/requesttrace/util/config"
)

var (
	configFile = flag.String("f", "", "The config file to read for settings. Without one, settings come from the environment.")
	console    = flag.Bool("console", false, "Run the export once as a console invocation instead of serving HTTP.")
)

func main() {
	flag.Parse()

	conf, err := requesttrace.ReadConfig(*configFile)
	if err != nil {
		logrus.WithError(err).Fatal("Error reading config file")
	}

	logger := logrus.StandardLogger()
	if conf.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	hostname, _ := os.Hostname()

	var hub *sentry.Hub
	if conf.SentryDsn.Value != "" {
		err = sentry.Init(sentry.ClientOptions{
			Dsn:        conf.SentryDsn.Value,
			ServerName: hostname,
		})
		if err != nil {
			logrus.WithError(err).Error("Error initializing Sentry client")
		} else {
			hub = sentry.CurrentHub()
			logger.AddHook(requesttrace.SentryHook{Hub: hub, Hostname: hostname})
		}
	}
	defer func() {
		requesttrace.ConsumePanic(hub, hostname, recover())
	}()

	inst, err := requesttrace.New(requesttrace.Options{
		Config:     conf,
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Could not set up instrumentation")
	}
	defer inst.Close()

	a := &app{
		log:      logger,
		upstream: inst.Resty(resty.New().SetTimeout(5 * time.Second)),
	}
	if conf.UpstreamURL.Value != nil {
		a.upstream.SetBaseURL(conf.UpstreamURL.String())
	}
	if conf.Database.Driver != "" {
		a.db, err = inst.OpenDB(conf.Database.Name, conf.Database.Driver, conf.Database.DSN.Value)
		if err != nil {
			logrus.WithError(err).Fatal("Could not open database")
		}
		defer a.db.Close()
	}

	if *console {
		err = inst.RunConsole(context.Background(), a.export)
		if err != nil {
			logrus.WithError(err).Error("Export failed")
		}
		return
	}

	logrus.WithFields(build.Fields()).WithField("address", conf.HTTPAddress).Info("Serving")
	err = http.ListenAndServe(conf.HTTPAddress, a.handler(inst, conf))
	logrus.WithError(err).Error("HTTP server stopped")
}

type app struct {
	log      *logrus.Logger
	upstream *resty.Client
	db       *store.DB
}

type order struct {
	ID     string `db:"id" json:"id"`
	Status string `db:"status" json:"status"`
}

func (a *app) handler(inst *requesttrace.Instrumentation, conf requesttrace.Config) http.Handler {
	orders := goji.SubMux()
	orders.Use(inst.Middleware)
	orders.HandleFunc(pat.Get("/:id"), a.getOrder)

	mux := goji.NewMux()
	mux.Handle(pat.New("/orders/*"), orders)
	mux.HandleFunc(pat.Get("/healthcheck"), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc(pat.Get("/builddate"), build.HandleBuildDate)
	mux.HandleFunc(pat.Get("/version"), build.HandleVersion)
	mux.Handle(pat.Get("/metrics"), promhttp.Handler())
	mux.HandleFunc(pat.Get("/config/json"), config.HandleConfigJson(conf))
	mux.HandleFunc(pat.Get("/config/yaml"), config.HandleConfigYaml(conf))
	return mux
}

func (a *app) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := pat.Param(r, "id")
	if user := r.Header.Get("X-User"); user != "" {
		events.SetPrincipal(ctx, user)
	}
	log := a.log.WithContext(ctx).WithField("order", id)
	log.Info("Fetching order")

	o := order{ID: id, Status: "unknown"}
	if a.db != nil {
		err := a.db.GetContext(ctx, &o, "SELECT id, status FROM orders WHERE id = ?", id)
		if err != nil {
			log.WithError(err).Warn("Order lookup failed")
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
	}

	if a.upstream.BaseURL != "" {
		resp, err := a.upstream.R().SetContext(ctx).Get("/inventory/" + id)
		if err != nil {
			log.WithError(err).Warn("Inventory lookup failed")
		} else {
			log.WithField("status", resp.StatusCode()).Debug("Inventory responded")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, "{\"id\":%q,\"status\":%q}\n", o.ID, o.Status)
}

// export is the console job: it reports recent orders upstream.
func (a *app) export(ctx context.Context) error {
	log := a.log.WithContext(ctx)
	log.Info("Starting export")

	var recent []order
	if a.db != nil {
		err := a.db.SelectContext(ctx, &recent, "SELECT id, status FROM orders ORDER BY id DESC LIMIT 100")
		if err != nil {
			return err
		}
	}
	if a.upstream.BaseURL != "" {
		_, err := a.upstream.R().SetContext(ctx).SetBody(recent).Post("/exports")
		if err != nil {
			return err
		}
	}
	log.WithField("orders", len(recent)).Info("Export finished")
	return nil
}
