package fleet

import "context"

// RequestState is the coarse state of a provider-side provisioning request.
type RequestState string

const (
	RequestOpen      RequestState = "open"
	RequestActive    RequestState = "active"
	RequestClosed    RequestState = "closed"
	RequestCancelled RequestState = "cancelled"
	RequestFailed    RequestState = "failed"
)

// Pending reports whether the request may still produce a usable instance.
func (s RequestState) Pending() bool {
	return s == RequestOpen || s == RequestActive
}

// Provider is the compute backend the controller requests instances from.
type Provider interface {
	// CountInstances reports the number of instances of image in a pending or
	// running state, or of all images when image is empty.
	CountInstances(ctx context.Context, image string) (int, error)
	// DescribeRequest reports the state of a provisioning request.
	DescribeRequest(ctx context.Context, id string) (RequestState, error)
	// Launch requests one instance of the template under the given name.
	// The returned node is not connected yet; callers follow up with
	// Node.Connect.
	Launch(ctx context.Context, template *Template, name string) (Node, error)
	// Shutdown releases provider-held resources.
	Shutdown()
	// Wait blocks until the provider has fully shut down.
	// It must not return before Shutdown has been called.
	Wait()
}
