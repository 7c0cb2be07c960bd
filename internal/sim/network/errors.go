package network

import "errors"

var (
	ErrNetworkNotLoaded       = errors.New("network not loaded")
	ErrRegionAlreadyLoaded    = errors.New("region already loaded")
	ErrNodeNotFound           = errors.New("node not found")
	ErrNodeAlreadyExists      = errors.New("node already exists")
	ErrEdgeNotFound           = errors.New("edge not found")
	ErrEdgeAlreadyExists      = errors.New("edge already exists")
	ErrSinkNotFound           = errors.New("sink not found")
	ErrSinkAlreadyExists      = errors.New("sink already exists")
	ErrNotAdjacent            = errors.New("positions are not adjacent")
	ErrInvalidKind            = errors.New("invalid pipe kind")
	ErrInvalidFacing          = errors.New("invalid sink facing")
	ErrTransactionClosed      = errors.New("transaction is not open")
	ErrConcurrentModification = errors.New("network modified during iteration")
)

const (
	CodeNetworkNotLoaded       = "E_NETWORK_NOT_LOADED"
	CodeRegionAlreadyLoaded    = "E_REGION_ALREADY_LOADED"
	CodeNodeNotFound           = "E_NODE_NOT_FOUND"
	CodeNodeAlreadyExists      = "E_NODE_ALREADY_EXISTS"
	CodeEdgeNotFound           = "E_EDGE_NOT_FOUND"
	CodeEdgeAlreadyExists      = "E_EDGE_ALREADY_EXISTS"
	CodeSinkNotFound           = "E_SINK_NOT_FOUND"
	CodeSinkAlreadyExists      = "E_SINK_ALREADY_EXISTS"
	CodeNotAdjacent            = "E_NOT_ADJACENT"
	CodeInvalidKind            = "E_INVALID_KIND"
	CodeInvalidFacing          = "E_INVALID_FACING"
	CodeTransactionClosed      = "E_TRANSACTION_CLOSED"
	CodeConcurrentModification = "E_CONCURRENT_MODIFICATION"
	CodeInternal               = "E_INTERNAL"
)

var errCodes = []struct {
	err  error
	code string
}{
	{ErrNetworkNotLoaded, CodeNetworkNotLoaded},
	{ErrRegionAlreadyLoaded, CodeRegionAlreadyLoaded},
	{ErrNodeNotFound, CodeNodeNotFound},
	{ErrNodeAlreadyExists, CodeNodeAlreadyExists},
	{ErrEdgeNotFound, CodeEdgeNotFound},
	{ErrEdgeAlreadyExists, CodeEdgeAlreadyExists},
	{ErrSinkNotFound, CodeSinkNotFound},
	{ErrSinkAlreadyExists, CodeSinkAlreadyExists},
	{ErrNotAdjacent, CodeNotAdjacent},
	{ErrInvalidKind, CodeInvalidKind},
	{ErrInvalidFacing, CodeInvalidFacing},
	{ErrTransactionClosed, CodeTransactionClosed},
	{ErrConcurrentModification, CodeConcurrentModification},
}

// Code returns the stable wire code for an engine error, "" for nil and
// E_INTERNAL for anything the engine does not define.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
