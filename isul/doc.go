// Package isul is the client side of the ISUL desktop license activation SDK.
//
// Install with:
//
//	go get github.com/CloudNativeWorks/isul-sdk/isul
//
// A host application creates one Manager per product, implements a Delegate
// (usually by embedding BaseDelegate) and calls Validate at startup. The
// Manager checks the Ed25519-signed activation token stored on this machine
// and, when it is missing, expired past its offline grace period or forged,
// asks the delegate whether to activate and shows the sign-in WebUI through a
// SignInPresenter.
//
// # Quick Start
//
//	m, err := isul.Create(
//	    "https://license.example.com/signin",
//	    "https://license.example.com",
//	    isul.Properties{
//	        isul.KeyProductID:        "demo",
//	        isul.KeyProductVersion:   "1.0",
//	        isul.KeyTrustedPublicKey: pubKeyBase64,
//	    },
//	    myDelegate,
//	    isul.WithPresenter(isul.LoopbackPresenter{Open: openBrowser}),
//	)
//	st, err := m.Validate("startup").Wait(ctx)
//
// # Offline Grace
//
// An expired token keeps working for kGracePeriodDays or kMaxOfflineLaunches
// launches, whichever ends first, as long as the license service cannot be
// reached. Status.IsAboutToExpire is set while running on grace.
//
// # Concurrency
//
// Validate, Deactivate and UpdateLicenseInfo are serialized per Manager.
// Delegate callbacks run through the configured Dispatcher, one at a time.
package isul
