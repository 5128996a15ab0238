package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/cryptomap/pulse/lib/store"
)

// Errors returned to client requests.
var (
	ErrBadMethod   = errors.New("bad method in request")
	ErrBadRequest  = errors.New("bad request")
	ErrMissingUser = errors.New("undefined user - missing query: ?user=<userId>")
	ErrMissingProj = errors.New("undefined project - missing query: ?project=<projectId>")
	ErrMissingEP   = errors.New("undefined endpoint - missing query: ?endpoint=<url>")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// homeHandler just replies a welcome message to the client.
func (t *Tracker) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// just reply a welcome message
	res.Body = "Hello, this is your contract volume tracker!"
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// projectsHandler replies the volume stats of every tracked project read from the wallet store.
func (t *Tracker) projectsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
		}
		// log request
		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	stats, err := t.ws.AllStats()
	if err != nil {
		return
	}

	tmp, _ := json.Marshal(stats)
	res.Body = string(tmp)
}

// prefsHandler saves (POST) or deletes (DELETE) a subscriber's notification preference for a project. The POST body
// carries a store.SubscriberPreference; DELETE identifies the row via the user and project queries.
func (t *Tracker) prefsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	status := http.StatusAccepted

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			if status == http.StatusAccepted {
				status = http.StatusBadRequest
			}
		}

		rw.WriteHeader(status)
		// log request
		log.Printf("httpreq from %v %s %s err:%e\n", r.RemoteAddr, r.Method, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	switch r.Method {
	case http.MethodPost:
		var pref store.SubscriberPreference
		if err = json.NewDecoder(r.Body).Decode(&pref); err != nil {
			err = ErrBadRequest

			return
		}

		if pref.UserID == "" || pref.ProjectID == "" || pref.Threshold < 0 {
			err = ErrBadRequest

			return
		}

		err = t.db.SavePreference(pref)
	case http.MethodDelete:
		user := r.URL.Query().Get("user")
		if user == "" {
			err = ErrMissingUser

			return
		}

		project := r.URL.Query().Get("project")
		if project == "" {
			err = ErrMissingProj

			return
		}

		if err = t.db.DeletePreference(user, project); errors.Is(err, store.ErrDataNotFound) {
			status = http.StatusNotFound
		}
	default:
		status = http.StatusMethodNotAllowed
		err = ErrBadMethod
	}
}

// endpointsHandler registers (POST) or removes (DELETE) a push endpoint. The POST body carries a store.PushEndpoint;
// DELETE identifies the row via the endpoint query.
func (t *Tracker) endpointsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	status := http.StatusAccepted

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			if status == http.StatusAccepted {
				status = http.StatusBadRequest
			}
		}

		rw.WriteHeader(status)
		// log request
		log.Printf("httpreq from %v %s %s err:%e\n", r.RemoteAddr, r.Method, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	switch r.Method {
	case http.MethodPost:
		var ep store.PushEndpoint
		if err = json.NewDecoder(r.Body).Decode(&ep); err != nil {
			err = ErrBadRequest

			return
		}

		if ep.Endpoint == "" || ep.UserID == "" {
			err = ErrBadRequest

			return
		}

		err = t.db.SaveEndpoint(ep)
	case http.MethodDelete:
		ep := r.URL.Query().Get("endpoint")
		if ep == "" {
			err = ErrMissingEP

			return
		}

		if err = t.db.RemoveEndpoint(ep); errors.Is(err, store.ErrDataNotFound) {
			status = http.StatusNotFound
		}
	default:
		status = http.StatusMethodNotAllowed
		err = ErrBadMethod
	}
}
