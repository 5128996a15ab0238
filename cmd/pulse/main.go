// package main: tracker service
//
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cryptomap/pulse/lib/chain"
	"github.com/cryptomap/pulse/lib/config"
	"github.com/cryptomap/pulse/lib/msg"
	"github.com/cryptomap/pulse/lib/msg/amqp"
	"github.com/cryptomap/pulse/lib/push/webpush"
	"github.com/cryptomap/pulse/lib/store"
	"github.com/cryptomap/pulse/lib/store/db"
	"github.com/cryptomap/pulse/lib/walletstore"
	"github.com/cryptomap/pulse/tracker"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	var err error
	var conf config.ServiceConfig
	if conf, err = config.ExtractConfiguration(*confPath); err != nil {
		panic(err)
	}
	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB
	if conf.DBConn != "" {
		log.Printf("Connecting to database:%+v\n", conf.DBConn)
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			panic(err)
		}
	}

	// open the durable wallet store
	ws := walletstore.New(conf.Snapshot, conf.LockStale.Duration)
	log.Printf("Wallet store at %s", conf.Snapshot)

	// load blockchain clients for the networks with a node; the rest are fed from the broker
	var blocks map[string]chain.Chain
	if blocks, err = chain.Init(conf.Bc); err != nil {
		panic(err)
	}
	defer chain.End(blocks)

	var brokerNets []string
	for _, bc := range conf.Bc {
		if bc.Node == "" {
			brokerNets = append(brokerNets, bc.Name)
		}
	}

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")
			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.Broker
	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect
			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}
		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
		defer func() {
			err := mb.Close()
			log.Printf("Closing messageBroker: %e", err)
		}()
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// create tracker service
	t := tracker.New(conf.DBType, dbConn, ws, mb, webpush.New(), blocks, tracker.Options{
		Retention:     conf.Retention.Duration,
		CleanupEvery:  conf.Cleanup.Duration,
		ResyncEvery:   conf.Resync.Duration,
		DiscoverEvery: conf.Discovery.Duration,
		Debounce:      conf.Debounce.Duration,
		BrokerNets:    brokerNets,
	})

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		t.Stop()
	}()

	// launch the tracker (startup sweep, watchers, schedulers)
	done := t.Track()

	// init RESTful API
	go func() {
		log.Printf("API: %s\n", t.InitAPI(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))
	}()

	// wait for the tracker to finish and log response
	log.Printf("Track: %s\n", <-done)

	// close database
	if dbConn != nil {
		err = db.Close(conf.DBType, dbConn)
		log.Printf("Disconnecting %v database, err:%e\n", conf.DBType, err)
	}
}
