package domain

type TierRequest struct {
	Identity string
}

type TierResponse struct {
	Registered bool
}
