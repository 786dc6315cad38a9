package composer

// Version of the video composer module.
const Version = "0.3.0"
