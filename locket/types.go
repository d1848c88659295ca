package locket

import "encoding/json"

type callableRequest struct {
	Data any `json:"data"`
}

type userByUsernameResponse struct {
	Result struct {
		Data *struct {
			Uid               string `json:"uid"`
			Username          string `json:"username"`
			FirstName         string `json:"first_name"`
			LastName          string `json:"last_name"`
			ProfilePictureURL string `json:"profile_picture_url"`
		} `json:"data"`
	} `json:"result"`
}

type restoreResponse struct {
	Subscriber struct {
		Entitlements map[string]struct {
			ProductIdentifier string `json:"product_identifier"`
			ExpiresDate       string `json:"expires_date"`
			PurchaseDate      string `json:"purchase_date"`
		} `json:"entitlements"`
	} `json:"subscriber"`
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	IdToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalId      string `json:"localId"`
}

type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

type firebaseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// cachedToken is what gets shared between instances through redis.
type cachedToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}
