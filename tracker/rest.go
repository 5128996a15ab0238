package tracker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// InitAPI sets up and starts the http/https server to service the RESTful API for a tracker service. If sslPort,
// sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (t *Tracker) InitAPI(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", t.homeHandler)
	r.HandleFunc("/projects", t.projectsHandler).Methods("GET")       // get tracked projects and their volumes
	r.HandleFunc("/preferences", t.prefsHandler)                      // save / delete a notification preference
	r.HandleFunc("/endpoints", t.endpointsHandler)                    // register / remove a push endpoint
	http.Handle("/", r)

	// setup shutdown channel
	t.sc = make(chan struct{})

	// start http server
	if port != "" {
		t.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = t.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		t.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = t.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-t.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}

// stopAPI shuts down the http servers implementing the RESTful API.
func (t *Tracker) stopAPI() {
	var err error

	if t.s != nil {
		if err = t.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if t.ss != nil {
		if err = t.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	if t.sc != nil {
		close(t.sc) // close server channel to indicate shutdowns have finished
	}
}
