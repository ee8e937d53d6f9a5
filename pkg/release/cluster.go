package release

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
)

// ClientFactory creates the cluster client
type ClientFactory func(ctx context.Context) (client.Client, error)

// KubeconfigClientFactory builds a client from the kubeconfig, using the
// named context or the current one when kubeContext is empty.
func KubeconfigClientFactory(kubeContext string) ClientFactory {
	return func(ctx context.Context) (client.Client, error) {
		restConfig, err := config.GetConfigWithContext(kubeContext)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
		}

		scheme := runtime.NewScheme()
		if err := clientgoscheme.AddToScheme(scheme); err != nil {
			return nil, err
		}

		c, err := client.New(restConfig, client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("failed to create cluster client: %w", err)
		}
		return c, nil
	}
}

// lazyClient creates the client on first use so build-only runs never need
// a reachable cluster.
type lazyClient struct {
	factory ClientFactory

	once sync.Once
	c    client.Client
	err  error
}

func (l *lazyClient) get(ctx context.Context) (client.Client, error) {
	l.once.Do(func() {
		l.c, l.err = l.factory(ctx)
	})
	return l.c, l.err
}
