package kube

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
)

// ResolveContext returns the only context name that contains segment.
// No match returns CONTEXT_NOT_FOUND, more than one CONTEXT_AMBIGUOUS.
func ResolveContext(contexts []string, segment string) (string, error) {
	if segment == "" {
		return "", apperrors.New(apperrors.ErrContextNotFound, "kube", "empty context segment", nil)
	}

	var matches []string
	for _, name := range contexts {
		if strings.Contains(name, segment) {
			matches = append(matches, name)
		}
	}
	slices.Sort(matches)

	switch len(matches) {
	case 0:
		return "", apperrors.New(apperrors.ErrContextNotFound, "kube",
			fmt.Sprintf("no kube context matches %q", segment), nil)
	case 1:
		return matches[0], nil
	default:
		return "", apperrors.New(apperrors.ErrContextAmbiguous, "kube",
			fmt.Sprintf("kube context %q is ambiguous, matches %s", segment, strings.Join(matches, ", ")), nil)
	}
}

// BuildConfig returns a REST config and the resolved cluster name.
// In-cluster mode uses the service account and names the cluster after the
// segment. Otherwise the kubeconfig at path (or the default loading rules)
// is searched for a context containing segment.
func BuildConfig(path, segment string, inCluster bool, logger *slog.Logger) (*rest.Config, string, error) {
	if inCluster {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, "", apperrors.New(apperrors.ErrConfigInvalid, "kube", "load in-cluster config", err)
		}
		logger.Info("using in-cluster kubernetes config")
		return cfg, segment, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}

	raw, err := rules.Load()
	if err != nil {
		return nil, "", apperrors.New(apperrors.ErrConfigInvalid, "kube", "load kubeconfig", err)
	}

	names := make([]string, 0, len(raw.Contexts))
	for name := range raw.Contexts {
		names = append(names, name)
	}

	name, err := ResolveContext(names, segment)
	if err != nil {
		return nil, "", err
	}

	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		rules, &clientcmd.ConfigOverrides{CurrentContext: name},
	).ClientConfig()
	if err != nil {
		return nil, "", apperrors.New(apperrors.ErrConfigInvalid, "kube",
			fmt.Sprintf("build client config for context %s", name), err)
	}

	logger.Info("using kube context", "context", name)
	return cfg, name, nil
}
