// Package order reduces the relative angles of the markers present in a
// frame into the chain's order parameters: mean polarization (average
// rotation) and mean curvature (end-to-end rotation span by marker ID).
//
// Only markers observed in the frame take part; absent markers are excluded,
// not zeroed. Marker IDs are assumed to encode position along the chain.
package order
