package ledger

import (
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
)

// Account errors shared by every settlement operation
var (
	ErrAccountNotFound = apierrors.NewDomainError(apierrors.KindNotFound, apierrors.ErrUserNotFound, "Account not found")
	ErrAccountFlagged  = apierrors.NewDomainError(apierrors.KindPermission, apierrors.ErrAccountFlagged, "Account is flagged for review")
	ErrCallerMismatch  = apierrors.NewDomainError(apierrors.KindPermission, apierrors.ErrCallerMismatch, "Caller may only act on their own account")
)
