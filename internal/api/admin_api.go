package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"topicgate/internal/broker"
	"topicgate/internal/policy"
)

// =============================================================================
// TOPIC HANDLERS
// =============================================================================

// topicName rebuilds the fully qualified name from the route parameters.
func topicName(r *http.Request) string {
	domain := broker.DomainPersistent
	if d := r.URL.Query().Get("domain"); d != "" {
		domain = broker.Domain(d)
	}
	return fmt.Sprintf("%s://%s/%s/%s", domain,
		chi.URLParam(r, "tenant"), chi.URLParam(r, "namespace"), chi.URLParam(r, "topic"))
}

func namespaceName(r *http.Request) string {
	return chi.URLParam(r, "tenant") + "/" + chi.URLParam(r, "namespace")
}

// loadedTopic resolves the route's topic or writes the error response.
func (s *Server) loadedTopic(w http.ResponseWriter, r *http.Request) (*broker.Topic, bool) {
	name := topicName(r)
	if _, err := broker.ParseTopicName(name); err != nil {
		s.writeError(w, err)
		return nil, false
	}
	t, err := s.broker.GetTopic(name)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return t, true
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"topics": s.broker.ListTopics(),
	})
}

func (s *Server) getTopic(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadedTopic(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, t.Stats())
}

func (s *Server) loadTopic(w http.ResponseWriter, r *http.Request) {
	t, err := s.broker.GetOrCreateTopic(r.Context(), topicName(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t.Stats())
}

func (s *Server) deleteTopic(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	name := topicName(r)
	if err := s.broker.DeleteTopic(r.Context(), name, force); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": true,
		"topic":   name,
	})
}

func (s *Server) fenceTopic(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadedTopic(w, r)
	if !ok {
		return
	}
	t.Fence()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"topic": t.ID(), "fenced": true})
}

func (s *Server) unfenceTopic(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadedTopic(w, r)
	if !ok {
		return
	}
	t.Unfence()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"topic": t.ID(), "fenced": false})
}

func (s *Server) terminateTopic(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadedTopic(w, r)
	if !ok {
		return
	}
	if err := t.Terminate(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"topic": t.ID(), "terminated": true})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// TopicPoliciesResponse pairs the stored topic tier with the effective
// values, present only while the topic is loaded.
type TopicPoliciesResponse struct {
	Topic     string                    `json:"topic" yaml:"topic"`
	Policies  *policy.TopicPolicies     `json:"policies" yaml:"policies"`
	Effective *policy.EffectivePolicies `json:"effective,omitempty" yaml:"effective,omitempty"`
}

// EffectivePolicyResponse is one resolved item and the tier it came from.
type EffectivePolicyResponse struct {
	Topic  string `json:"topic" yaml:"topic"`
	Item   string `json:"item" yaml:"item"`
	Value  any    `json:"value" yaml:"value"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

func (s *Server) getTopicPolicies(w http.ResponseWriter, r *http.Request) {
	name := topicName(r)
	stored, err := s.broker.TopicPolicies(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := TopicPoliciesResponse{Topic: name, Policies: stored}
	if t, err := s.broker.GetTopic(name); err == nil {
		eff := t.EffectivePolicies()
		resp.Topic = t.ID()
		resp.Effective = &eff
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) setTopicPolicies(w http.ResponseWriter, r *http.Request) {
	doc, err := s.decodeDocument(w, r, policy.TierTopic)
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := topicName(r)
	if err := s.broker.SetTopicPolicies(name, doc.(*policy.TopicPolicies)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"topic": name, "updated": true})
}

func (s *Server) deleteTopicPolicies(w http.ResponseWriter, r *http.Request) {
	name := topicName(r)
	if err := s.broker.DeleteTopicPolicies(name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"topic": name, "deleted": true})
}

func (s *Server) getEffectivePolicy(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadedTopic(w, r)
	if !ok {
		return
	}
	item := policy.Item(chi.URLParam(r, "item"))
	value, err := t.EffectivePolicy(item)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := EffectivePolicyResponse{Topic: t.ID(), Item: string(item), Value: value}
	if _, src, set := t.Policies().Effective(item); set {
		resp.Source = src.String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getNamespacePolicies(w http.ResponseWriter, r *http.Request) {
	ns := namespaceName(r)
	doc, err := s.broker.NamespacePolicies(ns)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if doc == nil {
		s.errorResponse(w, http.StatusNotFound, "no policies stored for namespace "+ns)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) setNamespacePolicies(w http.ResponseWriter, r *http.Request) {
	doc, err := s.decodeDocument(w, r, policy.TierNamespace)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ns := namespaceName(r)
	if err := s.broker.SetNamespacePolicies(ns, doc.(*policy.NamespacePolicies)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"namespace": ns, "updated": true})
}

// decodeDocument reads a JSON or YAML policy document from the body.
func (s *Server) decodeDocument(w http.ResponseWriter, r *http.Request, tier policy.Tier) (policy.Document, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", broker.ErrInvalidRequest, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty policy document", broker.ErrInvalidRequest)
	}
	return policy.DecodeDocument(data, tier)
}

// =============================================================================
// RATE LIMIT HANDLERS
// =============================================================================

func (s *Server) decodeRate(w http.ResponseWriter, r *http.Request) (policy.PublishRate, error) {
	var rate policy.PublishRate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rate); err != nil {
		return rate, fmt.Errorf("%w: invalid JSON: %v", broker.ErrInvalidRequest, err)
	}
	if rate.MessagesPerSecond < 0 || rate.BytesPerSecond < 0 {
		return rate, fmt.Errorf("%w: negative publish rate", broker.ErrInvalidRequest)
	}
	return rate, nil
}

func (s *Server) listResourceGroups(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"resourceGroups": s.broker.ResourceGroups(),
	})
}

func (s *Server) upsertResourceGroup(w http.ResponseWriter, r *http.Request) {
	rate, err := s.decodeRate(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.broker.UpsertResourceGroup(name, rate); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "publishRate": rate})
}

func (s *Server) deleteResourceGroup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.broker.DeleteResourceGroup(name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "deleted": true})
}

func (s *Server) setBrokerPublishRate(w http.ResponseWriter, r *http.Request) {
	rate, err := s.decodeRate(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.broker.UpdateBrokerPublishRate(rate)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"brokerPublishRate": rate})
}
